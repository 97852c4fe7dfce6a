package notifier

import (
	"net/url"
	"testing"
)

func TestSearchQueryURL(t *testing.T) {
	tests := []struct {
		name  string
		query SearchQuery
		want  map[string]string
	}{
		{
			name:  "ordered ranges",
			query: SearchQuery{CityCode: "5000", MinPrice: 5000, MaxPrice: 6700, MinRooms: 1.5, MaxRooms: 3},
			want:  map[string]string{"city": "5000", "price": "5000-6700", "rooms": "1.5-3", "order": "1"},
		},
		{
			name:  "inverted ranges are swapped",
			query: SearchQuery{CityCode: "4000", MinPrice: 6000, MaxPrice: 3000, MinRooms: 4, MaxRooms: 2.5},
			want:  map[string]string{"city": "4000", "price": "3000-6000", "rooms": "2.5-4", "order": "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.query.URL()
			u, err := url.Parse(raw)
			if err != nil {
				t.Fatalf("URL() produced unparsable URL %q: %v", raw, err)
			}
			if got := u.Scheme + "://" + u.Host + u.Path; got != SearchBaseURL {
				t.Errorf("URL() base = %q, want %q", got, SearchBaseURL)
			}
			q := u.Query()
			for k, v := range tt.want {
				if got := q.Get(k); got != v {
					t.Errorf("URL() %s = %q, want %q", k, got, v)
				}
			}
		})
	}
}

func TestCitiesHaveCodes(t *testing.T) {
	for name, code := range Cities {
		if code == "" {
			t.Errorf("city %q has empty code", name)
		}
	}
}
