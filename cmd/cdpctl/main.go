package main

import (
	"errors"
	"fmt"
	"os"

	json "github.com/json-iterator/go"

	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/grantcarthew/cdpwire/internal/cli"
)

// exitCode distinguishes a lost browser from other failures.
func exitCode(err error) int {
	var connErr *cdp.ConnectionError
	switch {
	case errors.Is(err, cdp.ErrDeadBrowser), errors.As(err, &connErr):
		return 2
	case errors.Is(err, cdp.ErrTimeout):
		return 3
	default:
		return 1
	}
}

func main() {
	if err := cli.Execute(); err != nil {
		if cli.JSONOutput {
			resp := map[string]any{
				"ok":    false,
				"error": err.Error(),
			}
			var browserErr *cdp.BrowserError
			if errors.As(err, &browserErr) {
				resp["cdpError"] = browserErr
			}
			_ = json.NewEncoder(os.Stderr).Encode(resp)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(exitCode(err))
	}
}
