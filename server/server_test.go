package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"yad2-notifier/pkg/notifier"
)

var (
	errNotFound = errors.New("not found")
	errBusy     = errors.New("busy")
)

type memStore struct {
	subs map[string]*notifier.Subscription
}

func (m *memStore) Load(_ context.Context, id string) (*notifier.Subscription, error) {
	sub, ok := m.subs[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) Save(_ context.Context, sub *notifier.Subscription) error {
	cp := *sub
	m.subs[sub.SubscriberID] = &cp
	return nil
}

func (m *memStore) SetActive(_ context.Context, id string, active bool) (bool, error) {
	sub, ok := m.subs[id]
	if !ok {
		return false, nil
	}
	sub.Active = active
	return true, nil
}

type fakePoller struct {
	err   error
	calls int
}

func (p *fakePoller) TryCheckAll(context.Context) error {
	p.calls++
	return p.err
}

func newTestServer(store *memStore, poller *fakePoller) http.Handler {
	s := New(&Config{
		Store:        store,
		Poller:       poller,
		Logger:       slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
		IsNotFound:   func(err error) bool { return errors.Is(err, errNotFound) },
		IsScanActive: func(err error) bool { return errors.Is(err, errBusy) },
	})
	return s.Router()
}

func TestHealth(t *testing.T) {
	h := newTestServer(&memStore{subs: map[string]*notifier.Subscription{}}, &fakePoller{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", http.NoBody))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health = %d, want 405", rec.Code)
	}
}

func TestPoll(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"completed", nil, http.StatusOK},
		{"already running", errBusy, http.StatusConflict},
		{"failed", errors.New("chrome missing"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poller := &fakePoller{err: tt.err}
			h := newTestServer(&memStore{subs: map[string]*notifier.Subscription{}}, poller)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pollz", http.NoBody))
			if rec.Code != tt.wantStatus {
				t.Errorf("POST /pollz = %d, want %d", rec.Code, tt.wantStatus)
			}
			if poller.calls != 1 {
				t.Errorf("poller called %d times, want 1", poller.calls)
			}
		})
	}
}

func TestActivateDeactivate(t *testing.T) {
	store := &memStore{subs: map[string]*notifier.Subscription{
		"42": {SubscriberID: "42", SearchURL: "u", Active: true},
	}}
	h := newTestServer(store, &fakePoller{})

	tests := []struct {
		path       string
		wantStatus int
		wantActive bool
	}{
		{"/subscriptions/42/deactivate", http.StatusOK, false},
		{"/subscriptions/42/activate", http.StatusOK, true},
		{"/subscriptions/99/activate", http.StatusNotFound, true},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, http.NoBody))
		if rec.Code != tt.wantStatus {
			t.Errorf("POST %s = %d, want %d", tt.path, rec.Code, tt.wantStatus)
		}
		if store.subs["42"].Active != tt.wantActive {
			t.Errorf("after POST %s active = %v, want %v", tt.path, store.subs["42"].Active, tt.wantActive)
		}
	}
}

func TestPutAndGetSubscription(t *testing.T) {
	store := &memStore{subs: map[string]*notifier.Subscription{}}
	h := newTestServer(store, &fakePoller{})

	form := url.Values{
		"city":      {"תל אביב"},
		"min_price": {"7000"},
		"max_price": {"5000"},
		"min_rooms": {"2.5"},
		"max_rooms": {"3"},
	}
	req := httptest.NewRequest(http.MethodPut, "/subscriptions/-1001", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT = %d %q", rec.Code, rec.Body.String())
	}

	saved := store.subs["-1001"]
	if saved == nil || !saved.Active {
		t.Fatalf("saved = %+v, want active subscription", saved)
	}
	u, err := url.Parse(saved.SearchURL)
	if err != nil {
		t.Fatal(err)
	}
	if q := u.Query(); q.Get("city") != "5000" || q.Get("price") != "5000-7000" || q.Get("rooms") != "2.5-3" {
		t.Errorf("search url = %s", saved.SearchURL)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/-1001", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d", rec.Code)
	}
	var got notifier.Subscription
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.SearchURL != saved.SearchURL {
		t.Errorf("GET url = %q, want %q", got.SearchURL, saved.SearchURL)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/77", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown = %d, want 404", rec.Code)
	}
}

func TestPutSubscriptionValidation(t *testing.T) {
	h := newTestServer(&memStore{subs: map[string]*notifier.Subscription{}}, &fakePoller{})

	form := url.Values{"city": {"atlantis"}, "min_price": {"1"}, "max_price": {"2"}, "min_rooms": {"1"}, "max_rooms": {"2"}}
	req := httptest.NewRequest(http.MethodPut, "/subscriptions/42", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("PUT with unknown city = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/abc", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET non-numeric id = %d, want 404", rec.Code)
	}
}

func TestSubscriptionIDLength(t *testing.T) {
	store := &memStore{subs: map[string]*notifier.Subscription{}}
	h := newTestServer(store, &fakePoller{})
	form := url.Values{"city": {"תל אביב"}, "min_price": {"1"}, "max_price": {"2"}, "min_rooms": {"1"}, "max_rooms": {"2"}}

	tests := []struct {
		id   string
		want int
	}{
		{"12345678901234567890", http.StatusOK},
		{"-12345678901234567890", http.StatusOK},
		{"123456789012345678901", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/subscriptions/"+tt.id, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("PUT %s = %d, want %d", tt.id, rec.Code, tt.want)
			}
		})
	}
	if _, ok := store.subs["123456789012345678901"]; ok {
		t.Error("over-long id reached the store")
	}
}
