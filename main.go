package main

import "github.com/helloworlde/meshkeeper/cmd"

func main() {
	cmd.Execute()
}
