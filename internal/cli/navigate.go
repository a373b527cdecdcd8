package cli

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/page"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var navigateCmd = &cobra.Command{
	Use:   "navigate <url>",
	Short: "Navigate the first page target to URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runNavigate,
}

func init() {
	navigateCmd.Flags().String("referrer", "", "Referrer URL")
	rootCmd.AddCommand(navigateCmd)
}

// normalizeURL adds protocol to URL if missing.
// Uses http:// for localhost/127.0.0.1/0.0.0.0, https:// otherwise.
func normalizeURL(url string) string {
	if strings.Contains(url, "://") {
		return url
	}

	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "localhost") ||
		strings.HasPrefix(lower, "127.0.0.1") ||
		strings.HasPrefix(lower, "0.0.0.0") {
		return "http://" + url
	}

	return "https://" + url
}

func runNavigate(cmd *cobra.Command, args []string) error {
	params := page.Navigate(normalizeURL(args[0]))
	if referrer, _ := cmd.Flags().GetString("referrer"); referrer != "" {
		params = params.WithReferrer(referrer)
	}

	s, err := connect(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.client.Command(page.CommandNavigate, params)
	if err != nil {
		return err
	}
	raw, err := s.client.Wait(id, cfg.Timeout)
	if err != nil {
		return err
	}

	var res page.NavigateReturns
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode %s result: %w", page.CommandNavigate, err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigation failed: %s", res.ErrorText)
	}

	return printValue(map[string]string{
		"url":      params.URL,
		"frameId":  res.FrameID.String(),
		"loaderId": res.LoaderID.String(),
	})
}
