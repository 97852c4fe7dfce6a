package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

type chromeEngine struct {
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	browserCtx    context.Context
}

func launchChrome(ctx context.Context, opts Options) (Engine, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "he-IL"),
	)
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// The first Run starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &chromeEngine{
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
		browserCtx:    browserCtx,
	}, nil
}

func (e *chromeEngine) NewPage(ctx context.Context, p Profile) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(e.browserCtx, chromedp.WithNewBrowserContext())

	// Allocate the tab on tabCtx itself so derived timeouts do not close it.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	page := &chromePage{ctx: tabCtx, cancel: cancel}
	runCtx, done := page.bind(ctx)
	defer done()

	err := chromedp.Run(runCtx,
		emulation.SetUserAgentOverride(p.UserAgent).WithAcceptLanguage(p.Locale),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		chromedp.EmulateViewport(int64(p.Width), int64(p.Height)),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("configure context: %w", err)
	}
	return page, nil
}

func (e *chromeEngine) Close() {
	e.cancelBrowser()
	e.cancelAlloc()
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// bind derives a context from the tab that also honors ctx's deadline and cancellation.
// Cancelling the derived context leaves the tab open.
func (p *chromePage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	runCtx, done := p.bind(ctx)
	defer done()
	return chromedp.Run(runCtx, chromedp.Navigate(url))
}

func (p *chromePage) Scroll(ctx context.Context, px int) error {
	runCtx, done := p.bind(ctx)
	defer done()
	return chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", px), nil))
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	runCtx, done := p.bind(ctx)
	defer done()
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromePage) Close() {
	p.cancel()
}
