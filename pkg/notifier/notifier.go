// Package notifier contains the core domain types for the yad2 listing notification service.
package notifier

import (
	"time"

	"cloud.google.com/go/civil"
)

// Subscription is one subscriber's saved search.
type Subscription struct {
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	SubscriberID string    `json:"subscriber_id"` // Chat ID on the messaging platform
	SearchURL    string    `json:"url"`           // Fully-formed search query against the target site
	Active       bool      `json:"active"`        // Notifications enabled
}

// Listing is a candidate advertisement read from one rendered feed item.
// It only lives for the duration of a single scan pass.
type Listing struct {
	Posted    civil.Date // Resolved posting date, valid only when HasDate is true
	ID        string     // Path segment following /item/
	Link      string     // Absolute URL of the ad
	Price     string
	Address   string
	CityLine  string
	RoomsLine string
	DateText  string // Raw text of the posting-date element
	ImageURL  string // First image src, used as a date fallback
	HasDate   bool
}

// Counters tallies what happened to each feed item of one subscriber in one cycle.
type Counters struct {
	Found           int
	Processed       int
	New             int
	AlreadyNotified int
	TooOld          int
	NoDate          int
	NoLink          int
	Errored         int
}
