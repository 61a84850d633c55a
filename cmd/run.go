package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/helloworlde/meshkeeper/internal/logger"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent: poll the cloud, serve metrics and the local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			logger.Default.Infof("starting meshkeeper %s", version)
			logger.Default.Infof("cloud %s, account %s, listening on %s", cfg.Cloud.BaseURL, cfg.Cloud.Account, cfg.Server.ListenAddress)

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Default.Errorf("close state store: %v", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				err := a.server.Start(cfg.Server.ListenAddress)
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				return a.agent.Run(ctx)
			})
			g.Go(func() error {
				<-ctx.Done()
				logger.Default.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return a.server.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			logger.Default.Info("stopped")
			return err
		},
	}
}
