// Package extract reads listing candidates out of a rendered search-results page.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"yad2-notifier/pkg/notifier"
)

// SiteURL is used to resolve relative ad links.
const SiteURL = "https://www.yad2.co.il"

// Container selectors, tried in order. A fallback is used only when every earlier
// selector matched nothing on the page.
var containerSelectors = []string{
	"li[data-nagish='feed-item-list-box']",
	".feed-item",
}

// Reason classifies why a feed item was dropped before date resolution.
type Reason string

const (
	NoLink  Reason = "no_link"
	Errored Reason = "errored"
)

// Rejection is returned when a feed item cannot become a listing candidate.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// RejectionReason returns the reason carried by err, or "" when err is not a rejection.
func RejectionReason(err error) Reason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}

// Strategy reads one field from a feed item. ok is false when the strategy found nothing.
type Strategy func(node *goquery.Selection) (value string, ok bool)

// Field strategies in priority order.
var (
	PriceStrategies = []Strategy{
		byText("[data-testid='price']"),
		byText("[class*='price']"),
	}
	AddressStrategies = []Strategy{
		byText("[data-testid='street-name']"),
		byText("[class*='street-name']"),
	}
	CityStrategies = []Strategy{
		byText("[data-testid='item-info-line-1st']"),
	}
	RoomsStrategies = []Strategy{
		byText("[data-testid='item-info-line-2nd']"),
	}
	DateStrategies = []Strategy{
		byText("span[class*='report-ad_createdAt']"),
		byText("[class*='createdAt']"),
	}
	ImageStrategies = []Strategy{
		byAttr("img[src]", "src"),
		byAttr("img[data-src]", "data-src"),
	}
)

// Nodes returns the feed item containers of doc and the selector that matched them.
func Nodes(doc *goquery.Document) ([]*goquery.Selection, string) {
	for _, sel := range containerSelectors {
		found := doc.Find(sel)
		if found.Length() == 0 {
			continue
		}
		nodes := make([]*goquery.Selection, 0, found.Length())
		found.Each(func(_ int, s *goquery.Selection) {
			nodes = append(nodes, s)
		})
		return nodes, sel
	}
	return nil, ""
}

// Identify reads the ad link and listing id from node.
func Identify(node *goquery.Selection) (l *notifier.Listing, err error) {
	defer recoverNode(&err)

	// The first anchor is the card's primary link. Later anchors are never
	// consulted, so selector drift shows up as NoLink.
	a := node.Find("a").First()
	if a.Length() == 0 {
		return nil, &Rejection{Reason: NoLink, Detail: "no anchor"}
	}
	v, _ := a.Attr("href")
	href := strings.TrimSpace(v)
	if href == "" {
		return nil, &Rejection{Reason: NoLink, Detail: "first anchor has no href"}
	}

	link, err := absoluteLink(href)
	if err != nil {
		return nil, &Rejection{Reason: NoLink, Detail: err.Error()}
	}
	id, ok := ListingID(link)
	if !ok {
		return nil, &Rejection{Reason: NoLink, Detail: "no /item/ segment in " + link}
	}
	return &notifier.Listing{ID: id, Link: link}, nil
}

// Details fills the descriptive fields, date text and image URL of l from node.
func Details(node *goquery.Selection, l *notifier.Listing) (err error) {
	defer recoverNode(&err)

	l.Price = firstOf(node, PriceStrategies)
	l.Address = firstOf(node, AddressStrategies)
	l.CityLine = firstOf(node, CityStrategies)
	l.RoomsLine = firstOf(node, RoomsStrategies)
	l.DateText = firstOf(node, DateStrategies)
	l.ImageURL = firstOf(node, ImageStrategies)
	return nil
}

// ListingID returns the path segment following /item/ in link.
func ListingID(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	_, rest, found := strings.Cut(u.Path, "/item/")
	if !found {
		return "", false
	}
	id, _, _ := strings.Cut(rest, "/")
	if id == "" {
		return "", false
	}
	return id, true
}

func absoluteLink(href string) (string, error) {
	base, err := url.Parse(SiteURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func firstOf(node *goquery.Selection, strategies []Strategy) string {
	for _, s := range strategies {
		if v, ok := s(node); ok {
			return v
		}
	}
	return ""
}

func byText(selector string) Strategy {
	return func(node *goquery.Selection) (string, bool) {
		text := strings.Join(strings.Fields(node.Find(selector).First().Text()), " ")
		return text, text != ""
	}
}

func byAttr(selector, attr string) Strategy {
	return func(node *goquery.Selection) (string, bool) {
		v, ok := node.Find(selector).First().Attr(attr)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
}

func recoverNode(err *error) {
	if r := recover(); r != nil {
		*err = &Rejection{Reason: Errored, Detail: fmt.Sprint(r)}
	}
}
