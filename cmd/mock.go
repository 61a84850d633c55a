package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/mockcloud"
)

func newMockCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:         "mock",
		Short:       "Serve a fake cloud API with a sample household for local testing",
		Annotations: map[string]string{"config": "skip"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New("debug", "text")
			cloud := mockcloud.New(nil, log)
			srv, errc := cloud.ListenAndServe(addr)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "base url:     %s\n", mockcloud.BaseURL("http://"+addr))
			fmt.Fprintf(out, "session:      %s\n", cloud.IssueToken())
			fmt.Fprintf(out, "verify code:  %s\n", mockcloud.DefaultVerifyCode)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "127.0.0.1:9312", "address to serve the fake cloud on")
	return cmd
}
