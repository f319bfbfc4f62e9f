// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/browser/stealth"
	"github.com/xkilldash9x/mailpilot/internal/config"
)

// ErrElementNotFound is returned when none of an element's selectors matched
// an interactable node in time.
var ErrElementNotFound = errors.New("element not found")

const defaultFindTimeout = 10 * time.Second

// Selector locates an element. Values starting with "/" or "(" are XPath
// expressions, anything else is a CSS selector.
type Selector string

func (s Selector) isXPath() bool {
	return strings.HasPrefix(string(s), "/") || strings.HasPrefix(string(s), "(")
}

func (s Selector) queryOption() chromedp.QueryOption {
	if s.isXPath() {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// Session is a single browser process with one tab.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	findTimeout time.Duration
	logger      *zap.Logger

	// run executes actions against the tab; replaced in tests.
	run func(ctx context.Context, actions ...chromedp.Action) error

	closeOnce sync.Once
	closeErr  error
}

// NewSession launches a browser configured by cfg. findTimeout bounds each
// selector attempt made by Click and Type.
func NewSession(ctx context.Context, cfg config.BrowserConfig, findTimeout time.Duration, logger *zap.Logger) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before browser start: %w", err)
	}
	log := logger.Named("browser")

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(Detach(ctx), DefaultAllocatorOptions(cfg)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf),
	)

	s := newSession(tabCtx, func() {
		cancelTab()
		cancelAlloc()
	}, findTimeout, log)
	s.run = s.runActions

	var startup chromedp.Tasks
	if cfg.Stealth {
		startup = stealth.Apply(stealth.PersonaFor(cfg.UserAgent), log)
	}
	// The first Run allocates the browser, so it must not carry a deadline.
	if err := chromedp.Run(tabCtx, startup); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	log.Debug("Browser session started.", zap.Bool("headless", cfg.Headless), zap.Bool("stealth", cfg.Stealth))
	return s, nil
}

func newSession(ctx context.Context, cancel context.CancelFunc, findTimeout time.Duration, logger *zap.Logger) *Session {
	if findTimeout <= 0 {
		findTimeout = defaultFindTimeout
	}
	return &Session{
		ctx:         ctx,
		cancel:      cancel,
		findTimeout: findTimeout,
		logger:      logger,
	}
}

// runActions runs actions on the tab, bounded by the operational ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	actionCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(actionCtx, actions...)
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating to URL.", zap.String("url", url))
	if err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Click clicks the first element matched by selectors.
func (s *Session) Click(ctx context.Context, selectors ...Selector) error {
	return s.withElement(ctx, selectors, func(sel Selector) chromedp.Action {
		return chromedp.Click(string(sel), sel.queryOption(), chromedp.NodeVisible)
	})
}

// Type sends text as key events to the first element matched by selectors.
// Tabs and newlines are sent as the corresponding keys.
func (s *Session) Type(ctx context.Context, text string, selectors ...Selector) error {
	return s.withElement(ctx, selectors, func(sel Selector) chromedp.Action {
		return chromedp.SendKeys(string(sel), text, sel.queryOption(), chromedp.NodeVisible)
	})
}

// withElement tries selectors in order. Each attempt waits up to findTimeout
// for the element to become visible and enabled, then runs act on it.
func (s *Session) withElement(ctx context.Context, selectors []Selector, act func(Selector) chromedp.Action) error {
	if len(selectors) == 0 {
		return fmt.Errorf("%w: no selectors given", ErrElementNotFound)
	}

	for _, sel := range selectors {
		opCtx, cancel := context.WithTimeout(ctx, s.findTimeout)
		by := sel.queryOption()
		err := s.run(opCtx,
			chromedp.WaitVisible(string(sel), by),
			chromedp.WaitEnabled(string(sel), by),
			act(sel),
		)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("Selector did not match, trying next.", zap.String("selector", string(sel)), zap.Error(err))
	}

	return fmt.Errorf("%w: %s", ErrElementNotFound, joinSelectors(selectors))
}

// Location returns the URL of the current page.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if chromedp.FromContext(s.ctx) != nil {
			if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.logger.Debug("Browser session closed.")
	})
	return s.closeErr
}

func joinSelectors(selectors []Selector) string {
	parts := make([]string, len(selectors))
	for i, sel := range selectors {
		parts[i] = string(sel)
	}
	return strings.Join(parts, ", ")
}
