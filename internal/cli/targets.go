package cli

import (
	"context"
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpwire/internal/browser"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List debuggable targets of the browser",
	Args:  cobra.NoArgs,
	RunE:  runTargets,
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}

func runTargets(cmd *cobra.Command, _ []string) error {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("targets needs an http:// endpoint, got %s", cfg.URL)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), discoveryTimeout)
	defer cancel()

	targets, err := browser.FetchTargets(ctx, cfg.URL)
	if err != nil {
		return err
	}

	if JSONOutput || !isStdoutTTY() {
		return printValue(targets)
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTITLE\tURL")
	for _, t := range targets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Type, t.Title, t.URL)
	}
	return w.Flush()
}
