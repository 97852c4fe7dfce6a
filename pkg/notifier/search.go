package notifier

import (
	"fmt"
	"net/url"
	"strconv"
)

// SearchBaseURL is the rentals search page on the target site.
const SearchBaseURL = "https://www.yad2.co.il/realestate/rent"

// Cities maps city names offered during onboarding to the site's city codes.
var Cities = map[string]string{
	"תל אביב":     "5000",
	"רמת גן":      "6600",
	"גבעתיים":     "6300",
	"הרצליה":      "6400",
	"חיפה":        "4000",
	"ירושלים":     "3000",
	"ראשון לציון": "8300",
}

// SearchQuery holds the filters a subscriber picks during onboarding.
type SearchQuery struct {
	CityCode string
	MinPrice int
	MaxPrice int
	MinRooms float64
	MaxRooms float64
}

// Normalize swaps inverted ranges so min <= max.
func (q SearchQuery) Normalize() SearchQuery {
	if q.MaxPrice < q.MinPrice {
		q.MinPrice, q.MaxPrice = q.MaxPrice, q.MinPrice
	}
	if q.MaxRooms < q.MinRooms {
		q.MinRooms, q.MaxRooms = q.MaxRooms, q.MinRooms
	}
	return q
}

// URL builds the search URL, sorted newest first.
func (q SearchQuery) URL() string {
	q = q.Normalize()
	v := url.Values{}
	v.Set("city", q.CityCode)
	v.Set("rooms", fmt.Sprintf("%s-%s", formatRooms(q.MinRooms), formatRooms(q.MaxRooms)))
	v.Set("price", fmt.Sprintf("%d-%d", q.MinPrice, q.MaxPrice))
	v.Set("order", "1")
	return SearchBaseURL + "?" + v.Encode()
}

func formatRooms(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}
