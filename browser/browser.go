// Package browser renders search-result pages in a headless browser, one isolated
// context per subscriber, with navigation retries and human-like pacing.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// NavigationError indicates that every navigation attempt for a page failed.
type NavigationError struct {
	Err      error
	URL      string
	Attempts uint
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// IsNavigationError checks if an error is a navigation error.
func IsNavigationError(err error) bool {
	var nav *NavigationError
	return errors.As(err, &nav)
}

// Profile describes how an isolated context presents itself.
type Profile struct {
	UserAgent string
	Locale    string
	Width     int
	Height    int
}

// Page is one isolated browsing context.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Scroll(ctx context.Context, px int) error
	HTML(ctx context.Context) (string, error)
	Close()
}

// Engine is a running browser process.
type Engine interface {
	NewPage(ctx context.Context, p Profile) (Page, error)
	Close()
}

// Launcher starts a browser process.
type Launcher func(ctx context.Context, opts Options) (Engine, error)

// Options controls browser startup and page pacing.
type Options struct {
	ChromePath   string
	Headless     bool
	NavAttempts  uint
	NavTimeout   time.Duration
	NavDelay     time.Duration
	Settle       time.Duration
	ScrollPx     int
	ScrollSettle time.Duration
	PauseMin     time.Duration
	PauseMax     time.Duration
}

// DefaultOptions returns the production pacing.
func DefaultOptions() Options {
	return Options{
		Headless:     true,
		NavAttempts:  3,
		NavTimeout:   30 * time.Second,
		NavDelay:     10 * time.Second,
		Settle:       5 * time.Second,
		ScrollPx:     1000,
		ScrollSettle: 3 * time.Second,
		PauseMin:     5 * time.Second,
		PauseMax:     10 * time.Second,
	}
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
}

// RandomProfile picks a user agent from the pool and a desktop-sized viewport.
func RandomProfile() Profile {
	return Profile{
		UserAgent: userAgents[rand.IntN(len(userAgents))],
		Locale:    "he-IL",
		Width:     1800 + rand.IntN(121),
		Height:    900 + rand.IntN(181),
	}
}

// Manager launches one browser per scan cycle.
type Manager struct {
	launch Launcher
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	opts   Options
}

// NewManager creates a manager that starts Chrome through chromedp.
func NewManager(opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		launch: launchChrome,
		logger: logger,
		sleep:  sleepContext,
		opts:   opts,
	}
}

// Launch starts a browser. A failure here means no subscriber can be scanned this cycle.
func (m *Manager) Launch(ctx context.Context) (*Session, error) {
	m.logger.Info("Launching browser", "headless", m.opts.Headless, "chrome_path", m.opts.ChromePath)
	engine, err := m.launch(ctx, m.opts)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return &Session{
		engine: engine,
		logger: m.logger,
		sleep:  m.sleep,
		opts:   m.opts,
	}, nil
}

// Session is a running browser shared by all subscribers in one cycle.
type Session struct {
	engine Engine
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	opts   Options
}

// Fetch renders pageURL in a fresh isolated context and returns the document HTML.
// The context is always closed, followed by a randomized pause before Fetch returns.
func (s *Session) Fetch(ctx context.Context, subscriberID, pageURL string) (html string, err error) {
	var page Page
	// The pause runs whatever happens, including a failed NewPage.
	defer func() {
		if page != nil {
			page.Close()
		}
		pause := randomBetween(s.opts.PauseMin, s.opts.PauseMax)
		s.logger.Debug("Pausing between subscribers", "subscriber", subscriberID, "pause_ms", pause.Milliseconds())
		_ = s.sleep(ctx, pause)
	}()

	profile := RandomProfile()
	page, err = s.engine.NewPage(ctx, profile)
	if err != nil {
		return "", fmt.Errorf("open browser context: %w", err)
	}

	s.logger.Info("Fetching search page",
		"subscriber", subscriberID,
		"url", pageURL,
		"viewport", fmt.Sprintf("%dx%d", profile.Width, profile.Height))

	err = retry.Do(
		func() error {
			navCtx, cancel := context.WithTimeout(ctx, s.opts.NavTimeout)
			defer cancel()
			return page.Navigate(navCtx, pageURL)
		},
		retry.Attempts(s.opts.NavAttempts),
		retry.Delay(s.opts.NavDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("Navigation failed, will retry",
				"subscriber", subscriberID,
				"attempt", n+1,
				"error", err)
		}),
	)
	if err != nil {
		return "", &NavigationError{URL: pageURL, Attempts: s.opts.NavAttempts, Err: err}
	}

	if err := s.sleep(ctx, s.opts.Settle); err != nil {
		return "", err
	}
	if err := page.Scroll(ctx, s.opts.ScrollPx); err != nil {
		return "", fmt.Errorf("scroll: %w", err)
	}
	if err := s.sleep(ctx, s.opts.ScrollSettle); err != nil {
		return "", err
	}

	html, err = page.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// Close shuts the browser down.
func (s *Session) Close() {
	s.engine.Close()
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
