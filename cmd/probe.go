package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/helloworlde/meshkeeper/internal/config"
	"github.com/helloworlde/meshkeeper/internal/models"
)

func ensureDataDir(cfg *config.Config) error {
	return os.MkdirAll(cfg.Storage.DataDir, 0o700)
}

func newProbeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run the local network probes once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			suite := newProbeSuite(opts.cfg, nil)
			snap, _ := suite.Run(cmd.Context(), true)
			printProbes(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func printProbes(out io.Writer, snap models.OfflineProbeSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBE\tOK\tLATENCY\tDETAIL")
	for _, r := range []models.ProbeResult{snap.Route, snap.Gateway, snap.DNS, snap.NTP} {
		latency := "-"
		if r.LatencyMS != nil {
			latency = fmt.Sprintf("%.1fms", *r.LatencyMS)
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", r.Name, r.Success, latency, r.Message)
	}
	w.Flush()
	fmt.Fprintln(out, snap.Label())
}
