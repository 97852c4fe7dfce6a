// Package poll scans every subscriber's search page and notifies them about new listings.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"yad2-notifier/dates"
	"yad2-notifier/extract"
	"yad2-notifier/pkg/notifier"
)

// ErrScanInProgress is returned by TryCheckAll when another scan holds the lock.
var ErrScanInProgress = errors.New("scan already in progress")

// Store interface for subscription persistence.
type Store interface {
	List(ctx context.Context) ([]*notifier.Subscription, error)
}

// Session renders pages for one scan cycle.
type Session interface {
	Fetch(ctx context.Context, subscriberID, url string) (string, error)
	Close()
}

// Launcher starts a browsing session.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// LaunchFunc adapts a function to the Launcher interface.
type LaunchFunc func(ctx context.Context) (Session, error)

func (f LaunchFunc) Launch(ctx context.Context) (Session, error) { return f(ctx) }

// Ledger remembers which listings each subscriber was already told about.
type Ledger interface {
	AlreadyNotified(ctx context.Context, listingID, subscriberID string) (bool, error)
	Record(ctx context.Context, listingID, subscriberID string) error
}

// Dispatcher sends a single listing notification.
type Dispatcher interface {
	Send(ctx context.Context, subscriberID string, l *notifier.Listing) error
}

// Options are the scan policy knobs.
type Options struct {
	Location      *time.Location // Calendar used for "today"
	MaxItems      int            // Feed items examined per subscriber
	FreshnessDays int            // Listings older than this many days are skipped
}

// DefaultOptions returns the production scan policy.
func DefaultOptions() Options {
	return Options{
		Location:      time.UTC,
		MaxItems:      15,
		FreshnessDays: 3,
	}
}

// Monitor handles scanning logic.
type Monitor struct {
	store      Store
	launcher   Launcher
	ledger     Ledger
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
	opts       Options
	mu         sync.Mutex
}

// New creates a new scan monitor.
func New(store Store, launcher Launcher, ledger Ledger, dispatcher Dispatcher, opts Options, logger *slog.Logger) *Monitor {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Monitor{
		store:      store,
		launcher:   launcher,
		ledger:     ledger,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		opts:       opts,
	}
}

// CheckAll scans every active subscriber once, waiting for any scan already running.
// Only failures that prevent the whole cycle are returned.
func (m *Monitor) CheckAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scan(ctx)
}

// TryCheckAll is CheckAll that returns ErrScanInProgress instead of waiting.
func (m *Monitor) TryCheckAll(ctx context.Context) error {
	if !m.mu.TryLock() {
		return ErrScanInProgress
	}
	defer m.mu.Unlock()
	return m.scan(ctx)
}

func (m *Monitor) scan(ctx context.Context) error {
	cycleID := uuid.NewString()
	started := m.now()

	subs, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	m.logger.Info("Scan cycle starting", "cycle_id", cycleID, "subscriptions", len(subs))

	activeCount := 0
	for _, sub := range subs {
		if sub.Active {
			activeCount++
		}
	}
	if activeCount == 0 {
		m.logger.Info("No active subscribers, skipping browser launch", "cycle_id", cycleID)
		return nil
	}

	// The browser must outlive a shutdown signal so the current subscriber can finish.
	session, err := m.launcher.Launch(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("start browsing session: %w", err)
	}
	defer session.Close()

	today := dates.Today(started, m.opts.Location)
	var total notifier.Counters
	var scanned, failed int

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping scan", "cycle_id", cycleID, "error", ctx.Err())
			return ctx.Err()
		default:
		}

		if !sub.Active {
			m.logger.Info("Skipping inactive subscriber", "subscriber", sub.SubscriberID, "cycle_id", cycleID)
			continue
		}

		scanned++
		c, err := m.checkSubscriber(context.WithoutCancel(ctx), session, sub, today, cycleID)
		if err != nil {
			failed++
			m.logger.Error("Subscriber scan failed",
				"subscriber", sub.SubscriberID,
				"cycle_id", cycleID,
				"error", err)
			continue
		}
		total.Found += c.Found
		total.New += c.New
		total.Errored += c.Errored
	}

	m.logger.Info("Scan cycle completed",
		"cycle_id", cycleID,
		"subscribers", scanned,
		"failed", failed,
		"found", total.Found,
		"new", total.New,
		"errored", total.Errored,
		"duration_ms", m.now().Sub(started).Milliseconds())
	return nil
}

func (m *Monitor) checkSubscriber(ctx context.Context, session Session, sub *notifier.Subscription, today civil.Date, cycleID string) (notifier.Counters, error) {
	var c notifier.Counters

	html, err := session.Fetch(ctx, sub.SubscriberID, sub.SearchURL)
	if err != nil {
		return c, fmt.Errorf("fetch search page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return c, fmt.Errorf("parse search page: %w", err)
	}

	nodes, selector := extract.Nodes(doc)
	c.Found = len(nodes)
	if len(nodes) == 0 {
		m.logger.Warn("No feed items found", "subscriber", sub.SubscriberID, "cycle_id", cycleID)
	}
	if len(nodes) > m.opts.MaxItems {
		nodes = nodes[:m.opts.MaxItems]
	}

	for _, node := range nodes {
		c.Processed++
		m.processItem(ctx, sub.SubscriberID, node, today, &c)
	}

	m.logger.Info("Scan summary",
		"subscriber", sub.SubscriberID,
		"cycle_id", cycleID,
		"selector", selector,
		"found", c.Found,
		"processed", c.Processed,
		"new", c.New,
		"already_notified", c.AlreadyNotified,
		"too_old", c.TooOld,
		"no_date", c.NoDate,
		"no_link", c.NoLink,
		"errored", c.Errored)
	return c, nil
}

// processItem runs one feed item through identify, dedup, details, date, freshness,
// dispatch and record. The ledger is consulted before the costlier field extraction.
func (m *Monitor) processItem(ctx context.Context, subscriberID string, node *goquery.Selection, today civil.Date, c *notifier.Counters) {
	l, err := extract.Identify(node)
	if err != nil {
		if extract.RejectionReason(err) == extract.NoLink {
			c.NoLink++
		} else {
			c.Errored++
		}
		m.logger.Debug("Feed item rejected", "subscriber", subscriberID, "error", err)
		return
	}

	seen, err := m.ledger.AlreadyNotified(ctx, l.ID, subscriberID)
	if err != nil {
		c.Errored++
		m.logger.Warn("Ledger lookup failed", "subscriber", subscriberID, "listing_id", l.ID, "error", err)
		return
	}
	if seen {
		c.AlreadyNotified++
		return
	}

	if err := extract.Details(node, l); err != nil {
		c.Errored++
		m.logger.Warn("Failed to read listing details", "subscriber", subscriberID, "listing_id", l.ID, "error", err)
		return
	}

	l.Posted, l.HasDate = dates.Resolve(l.DateText, l.ImageURL, today)
	if !l.HasDate {
		c.NoDate++
		m.logger.Debug("Listing date unresolved", "subscriber", subscriberID, "listing_id", l.ID, "date_text", l.DateText)
		return
	}
	if age := today.DaysSince(l.Posted); age > m.opts.FreshnessDays {
		c.TooOld++
		return
	}

	if err := m.dispatcher.Send(ctx, subscriberID, l); err != nil {
		c.Errored++
		m.logger.Warn("Notification failed, will retry next cycle", "subscriber", subscriberID, "listing_id", l.ID, "error", err)
		return
	}
	c.New++

	// Send-then-record: a failure here can cause a repeat notification next cycle.
	if err := m.ledger.Record(ctx, l.ID, subscriberID); err != nil {
		m.logger.Error("Failed to record notification", "subscriber", subscriberID, "listing_id", l.ID, "error", err)
	}
}

// Run scans, sleeps a random duration in [minWait, maxWait], and repeats until ctx is cancelled.
// A failed cycle is logged and the loop continues.
func (m *Monitor) Run(ctx context.Context, minWait, maxWait time.Duration) {
	for {
		if err := m.CheckAll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("Scan cycle failed", "severity", "CRITICAL", "error", err)
		}
		if ctx.Err() != nil {
			m.logger.Info("Scheduler stopped")
			return
		}

		wait := randomBetween(minWait, maxWait)
		m.logger.Info("Next scan scheduled", "wait", wait.String(), "at", m.now().Add(wait).Format(time.RFC3339))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			m.logger.Info("Scheduler stopped")
			return
		case <-t.C:
		}
	}
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
