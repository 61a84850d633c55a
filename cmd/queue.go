package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/internal/queue"
	httputil "github.com/helloworlde/meshkeeper/pkg/http"
)

// localAPI talks to a running agent.
type localAPI struct {
	base string
	http *http.Client
}

func newLocalAPI(addr string) *localAPI {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	cfg := httputil.DefaultConfig()
	cfg.Timeout = 30 * time.Second
	return &localAPI{base: strings.TrimRight(addr, "/"), http: httputil.NewOptimizedClient(cfg)}
}

func (c *localAPI) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("agent answered %s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	var addr string
	api := func() *localAPI {
		if addr == "" {
			addr = opts.cfg.Server.ListenAddress
		}
		return newLocalAPI(addr)
	}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage actions queued while the cloud was unreachable",
	}
	cmd.PersistentFlags().StringVar(&addr, "agent", "", "address of the running agent (default: server.listen_address)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List queued actions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var entries []models.QueuedAction
				if err := api().do(cmd.Context(), http.MethodGet, "/api/queue", nil, &entries); err != nil {
					return err
				}
				printQueue(cmd.OutOrStdout(), entries)
				return nil
			},
		},
		&cobra.Command{
			Use:   "replay",
			Short: "Retry every queued action, including failed ones",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var summary queue.ReplaySummary
				if err := api().do(cmd.Context(), http.MethodPost, "/api/queue/replay", nil, &summary); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, failed %d\n", len(summary.Replayed), len(summary.Failed))
				printQueue(cmd.OutOrStdout(), summary.Failed)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Drop a queued action without sending it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := api().do(cmd.Context(), http.MethodDelete, "/api/queue/"+args[0], nil, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func printQueue(out io.Writer, entries []models.QueuedAction) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no queued actions")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tACTION\tATTEMPTS\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.Status, e.Action.Label, e.Attempts, e.LastError)
	}
	w.Flush()
}
