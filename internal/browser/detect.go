package browser

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
)

// ErrChromeNotFound is returned when no Chrome binary can be located.
var ErrChromeNotFound = errors.New("chrome not found")

// chromePaths returns the candidate Chrome locations for the current platform.
func chromePaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
		}
	case "linux":
		return []string{
			"google-chrome",
			"google-chrome-stable",
			"chromium",
			"chromium-browser",
			"/snap/bin/chromium",
			"headless-shell",
		}
	default:
		return nil
	}
}

// FindChrome locates a Chrome or Chromium binary. A non-empty override is
// used as given and must exist; otherwise the platform's usual install
// locations and $PATH are searched.
func FindChrome(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", ErrChromeNotFound
		}
		return override, nil
	}

	for _, path := range chromePaths() {
		if found, err := exec.LookPath(path); err == nil {
			return found, nil
		}
	}
	return "", ErrChromeNotFound
}
