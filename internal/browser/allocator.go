// internal/browser/allocator.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/mailpilot/internal/config"
)

// launchFlags returns the command line flags for a browser started with cfg.
// User supplied args are applied last so they can override the defaults.
func launchFlags(cfg config.BrowserConfig) map[string]any {
	flags := map[string]any{
		"no-sandbox":             true,
		"disable-dev-shm-usage":  true,
		"disable-blink-features": "AutomationControlled",
		"enable-automation":      false,
		"disable-popup-blocking": true,
		"disable-sync":           true,
	}
	if cfg.Headless {
		flags["headless"] = true
		flags["hide-scrollbars"] = true
		flags["mute-audio"] = true
	} else {
		flags["start-maximized"] = true
	}
	if cfg.DisableGPU {
		flags["disable-gpu"] = true
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		// key=value arguments carry a string, bare flags are booleans.
		if key, value, found := strings.Cut(arg, "="); found {
			flags[key] = value
		} else {
			flags[arg] = true
		}
	}
	return flags
}

// DefaultAllocatorOptions builds the exec allocator options for cfg.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	for name, value := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if width, height, ok := viewport(cfg); ok {
		opts = append(opts, chromedp.WindowSize(width, height))
	}
	return opts
}

func viewport(cfg config.BrowserConfig) (width, height int, ok bool) {
	width, height = cfg.Viewport["width"], cfg.Viewport["height"]
	return width, height, width > 0 && height > 0
}
