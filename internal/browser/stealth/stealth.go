package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsTemplate string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona provides a realistic default browser profile.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "America/Los_Angeles",
	Locale:    "en-US",
}

// PersonaFor returns DefaultPersona with the user agent replaced when one is
// configured.
func PersonaFor(userAgent string) Persona {
	p := DefaultPersona
	p.Languages = append([]string(nil), DefaultPersona.Languages...)
	if userAgent != "" {
		p.UserAgent = userAgent
	}
	return p
}

// Script renders the evasions script for p.
func Script(p Persona) (string, error) {
	languages, err := json.Marshal(p.Languages)
	if err != nil {
		return "", fmt.Errorf("failed to encode languages: %w", err)
	}
	platform, err := json.Marshal(p.Platform)
	if err != nil {
		return "", fmt.Errorf("failed to encode platform: %w", err)
	}
	return strings.NewReplacer(
		"__LANGUAGES__", string(languages),
		"__PLATFORM__", string(platform),
	).Replace(evasionsTemplate), nil
}

// acceptLanguage builds the header value matching the persona's languages.
func acceptLanguage(languages []string) string {
	var b strings.Builder
	for i, lang := range languages {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(lang)
		if i > 0 {
			fmt.Fprintf(&b, ";q=%.1f", 1.0-0.1*float64(i))
		}
	}
	return b.String()
}

// Apply constructs the CDP actions that make an automated browser look like a
// user-operated one.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).WithPlatform(p.Platform),

		// AddScriptToEvaluateOnNewDocument returns an identifier as well, so it
		// needs wrapping to satisfy chromedp.Action.
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := Script(p)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}

	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if len(p.Languages) > 0 {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(p.Languages),
		}))
	}
	return tasks
}
