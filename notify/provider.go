// Package notify delivers new-listing messages to subscribers through a chat provider.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"yad2-notifier/pkg/notifier"
)

// Provider delivers a formatted message to one chat.
type Provider interface {
	Send(ctx context.Context, chatID, text string) error
}

// Dispatcher formats listings and hands them to a provider.
type Dispatcher struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a dispatcher that sends through provider.
func New(provider Provider, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		logger:   logger,
	}
}

// Send notifies subscriberID about l. A nil error means the provider accepted the message.
func (d *Dispatcher) Send(ctx context.Context, subscriberID string, l *notifier.Listing) error {
	text := FormatListing(l)

	d.logger.Info("Sending listing notification",
		"subscriber", subscriberID,
		"listing_id", l.ID)

	if err := d.provider.Send(ctx, subscriberID, text); err != nil {
		return fmt.Errorf("send listing %s to %s: %w", l.ID, subscriberID, err)
	}
	return nil
}

// FormatListing renders the Markdown message for one listing.
func FormatListing(l *notifier.Listing) string {
	var b strings.Builder
	b.WriteString("🏠 *מציאה חדשה!*\n")
	fmt.Fprintf(&b, "📍 %s, %s\n", escapeMarkdown(l.Address), escapeMarkdown(l.CityLine))
	fmt.Fprintf(&b, "💰 %s\n", escapeMarkdown(l.Price))
	fmt.Fprintf(&b, "🛏️ %s\n", escapeMarkdown(l.RoomsLine))
	fmt.Fprintf(&b, "🔗 [לצפייה במודעה](%s)", escapeLink(l.Link))
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// escapeMarkdown neutralizes legacy Telegram Markdown metacharacters in scraped text.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// A closing paren would end the inline link early.
func escapeLink(s string) string {
	return strings.NewReplacer(")", "%29", " ", "%20").Replace(s)
}
