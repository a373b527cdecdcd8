// Package browser discovers CDP WebSocket endpoints from a browser's HTTP
// debugging interface.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/json-iterator/go"
)

// ErrNoPageTarget is returned when no page target is available.
var ErrNoPageTarget = errors.New("no page target found")

// Target represents a CDP target (page, worker, etc).
type Target struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Description  string `json:"description,omitempty"`
	WebSocketURL string `json:"webSocketDebuggerUrl"`
}

// VersionInfo contains browser version information from /json/version.
type VersionInfo struct {
	Browser       string `json:"Browser"`
	ProtocolVer   string `json:"Protocol-Version"`
	UserAgent     string `json:"User-Agent"`
	V8Version     string `json:"V8-Version"`
	WebKitVersion string `json:"WebKit-Version"`
	WebSocketURL  string `json:"webSocketDebuggerUrl"`
}

// FetchTargets retrieves the list of available targets from the HTTP
// endpoint, e.g. http://127.0.0.1:9222.
// Uses http.DefaultClient which has no timeout; callers must provide a context
// with timeout.
func FetchTargets(ctx context.Context, endpoint string) ([]Target, error) {
	var targets []Target
	if err := getJSON(ctx, endpoint, "/json/list", &targets); err != nil {
		return nil, fmt.Errorf("fetch targets: %w", err)
	}
	return targets, nil
}

// FetchVersion retrieves browser version info from the HTTP endpoint.
func FetchVersion(ctx context.Context, endpoint string) (*VersionInfo, error) {
	var info VersionInfo
	if err := getJSON(ctx, endpoint, "/json/version", &info); err != nil {
		return nil, fmt.Errorf("fetch version: %w", err)
	}
	return &info, nil
}

// FindPageTarget returns the first page-type target from the list.
func FindPageTarget(targets []Target) *Target {
	for i := range targets {
		if targets[i].Type == "page" {
			return &targets[i]
		}
	}
	return nil
}

// ResolveWebSocketURL turns endpoint into a CDP WebSocket URL. ws:// and
// wss:// URLs are returned unchanged. For http:// endpoints the first page
// target is used when page is true, otherwise the browser-level socket.
func ResolveWebSocketURL(ctx context.Context, endpoint string, page bool) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return endpoint, nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	if !page {
		info, err := FetchVersion(ctx, endpoint)
		if err != nil {
			return "", err
		}
		if info.WebSocketURL == "" {
			return "", errors.New("browser did not report a WebSocket URL")
		}
		return info.WebSocketURL, nil
	}

	targets, err := FetchTargets(ctx, endpoint)
	if err != nil {
		return "", err
	}
	target := FindPageTarget(targets)
	if target == nil {
		return "", ErrNoPageTarget
	}
	return target.WebSocketURL, nil
}

func getJSON(ctx context.Context, endpoint, path string, v any) error {
	reqURL := strings.TrimSuffix(endpoint, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
