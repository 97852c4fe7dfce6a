package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"yad2-notifier/pkg/notifier"
)

const feedHTML = `<html><body><ul>
<li data-nagish="feed-item-list-box">
  <a href="/realestate/item/abc123?opened-from=feed#top">
    <img src="https://img.yad2.co.il/Pic/202602/10/2_2/o/y2_1.jpg">
    <span data-testid="price">₪ 6,500</span>
    <span data-testid="street-name">  הרצל 12 </span>
    <span data-testid="item-info-line-1st">דירה, פלורנטין, תל אביב</span>
    <span data-testid="item-info-line-2nd">3 חדרים • קומה 2</span>
    <span class="report-ad_createdAt__x1">עודכן היום</span>
  </a>
</li>
<li data-nagish="feed-item-list-box">
  <a href="https://www.yad2.co.il/realestate/item/def456">
    <span data-testid="price">₪ 5,000</span>
  </a>
</li>
<li data-nagish="feed-item-list-box"><div>promoted banner</div></li>
</ul>
<div class="feed-item"><a href="/realestate/item/ignored">x</a></div>
</body></html>`

const fallbackHTML = `<html><body>
<div class="feed-item"><a href="/realestate/item/zz9">x</a></div>
<div class="feed-item"><a href="/realestate/item/zz10">y</a></div>
</body></html>`

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func TestNodes(t *testing.T) {
	tests := []struct {
		name         string
		html         string
		wantCount    int
		wantSelector string
	}{
		{"primary selector wins", feedHTML, 3, containerSelectors[0]},
		{"fallback when primary is empty", fallbackHTML, 2, containerSelectors[1]},
		{"no containers", "<html><body><p>nothing</p></body></html>", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, sel := Nodes(mustDoc(t, tt.html))
			if len(nodes) != tt.wantCount {
				t.Errorf("Nodes() returned %d nodes, want %d", len(nodes), tt.wantCount)
			}
			if sel != tt.wantSelector {
				t.Errorf("Nodes() selector = %q, want %q", sel, tt.wantSelector)
			}
		})
	}
}

func TestIdentify(t *testing.T) {
	nodes, _ := Nodes(mustDoc(t, feedHTML))

	l, err := Identify(nodes[0])
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if l.ID != "abc123" {
		t.Errorf("ID = %q, want %q", l.ID, "abc123")
	}
	if want := "https://www.yad2.co.il/realestate/item/abc123?opened-from=feed#top"; l.Link != want {
		t.Errorf("Link = %q, want %q", l.Link, want)
	}

	l, err = Identify(nodes[1])
	if err != nil {
		t.Fatalf("Identify() absolute link error = %v", err)
	}
	if l.ID != "def456" {
		t.Errorf("ID = %q, want %q", l.ID, "def456")
	}

	_, err = Identify(nodes[2])
	if got := RejectionReason(err); got != NoLink {
		t.Errorf("Identify() on node without link: reason = %q, want %q", got, NoLink)
	}
}

func TestIdentifyUsesFirstAnchorOnly(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{
			name: "first anchor without href",
			html: `<ul><li data-nagish="feed-item-list-box"><a class="card">card</a><div><a href="/realestate/item/other999">x</a></div></li></ul>`,
		},
		{
			name: "first anchor with blank href",
			html: `<ul><li data-nagish="feed-item-list-box"><a href="  ">card</a><a href="/realestate/item/other999">x</a></li></ul>`,
		},
		{
			name: "no anchor",
			html: `<ul><li data-nagish="feed-item-list-box"><span>card</span></li></ul>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, _ := Nodes(mustDoc(t, tt.html))
			if len(nodes) != 1 {
				t.Fatalf("Nodes() = %d nodes, want 1", len(nodes))
			}
			l, err := Identify(nodes[0])
			if got := RejectionReason(err); got != NoLink {
				t.Errorf("Identify() = (%+v, %v), want %q rejection", l, err, NoLink)
			}
		})
	}
}

func TestIdentifyRecoversPanic(t *testing.T) {
	_, err := Identify(nil)
	if got := RejectionReason(err); got != Errored {
		t.Errorf("Identify(nil) reason = %q, want %q (err %v)", got, Errored, err)
	}
}

func TestDetails(t *testing.T) {
	nodes, _ := Nodes(mustDoc(t, feedHTML))

	l := &notifier.Listing{}
	if err := Details(nodes[0], l); err != nil {
		t.Fatalf("Details() error = %v", err)
	}
	want := notifier.Listing{
		Price:     "₪ 6,500",
		Address:   "הרצל 12",
		CityLine:  "דירה, פלורנטין, תל אביב",
		RoomsLine: "3 חדרים • קומה 2",
		DateText:  "עודכן היום",
		ImageURL:  "https://img.yad2.co.il/Pic/202602/10/2_2/o/y2_1.jpg",
	}
	if *l != want {
		t.Errorf("Details() = %+v, want %+v", *l, want)
	}

	sparse := &notifier.Listing{}
	if err := Details(nodes[1], sparse); err != nil {
		t.Fatalf("Details() sparse error = %v", err)
	}
	if sparse.Price != "₪ 5,000" || sparse.Address != "" || sparse.DateText != "" || sparse.ImageURL != "" {
		t.Errorf("Details() sparse = %+v, want only price set", *sparse)
	}
}

func TestListingID(t *testing.T) {
	tests := []struct {
		link   string
		want   string
		wantOK bool
	}{
		{"https://www.yad2.co.il/realestate/item/abc123", "abc123", true},
		{"https://www.yad2.co.il/realestate/item/abc123/", "abc123", true},
		{"https://www.yad2.co.il/realestate/item/abc123?x=1#f", "abc123", true},
		{"https://www.yad2.co.il/realestate/rent", "", false},
		{"https://www.yad2.co.il/realestate/item/", "", false},
	}
	for _, tt := range tests {
		got, ok := ListingID(tt.link)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ListingID(%q) = (%q, %v), want (%q, %v)", tt.link, got, ok, tt.want, tt.wantOK)
		}
	}
}
