package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helloworlde/meshkeeper/internal/client"
)

// withFetcher runs fn against a fetcher backed by the credential store.
func withFetcher(ctx context.Context, opts *rootOptions, fn func(context.Context, *client.Fetcher) error) error {
	if err := ensureDataDir(opts.cfg); err != nil {
		return err
	}
	tokens, err := openTokens(opts.cfg)
	if err != nil {
		return err
	}
	f, err := newFetcher(opts.cfg, tokens, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opts.cfg.Cloud.Timeout)
	defer cancel()
	return fn(ctx, f)
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <email|phone>",
		Short: "Request a verification code for the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFetcher(cmd.Context(), opts, func(ctx context.Context, f *client.Fetcher) error {
				if err := f.Login(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Verification code sent. Run `meshkeeper verify <code>` to finish.")
				return nil
			})
		},
	}
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <code>",
		Short: "Finish login with the verification code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFetcher(cmd.Context(), opts, func(ctx context.Context, f *client.Fetcher) error {
				if !f.HasSession() {
					return fmt.Errorf("no pending login; run `meshkeeper login` first")
				}
				if err := f.Verify(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed in.")
				return nil
			})
		},
	}
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFetcher(cmd.Context(), opts, func(ctx context.Context, f *client.Fetcher) error {
				if err := f.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return nil
			})
		},
	}
}
