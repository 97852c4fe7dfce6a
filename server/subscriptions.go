package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"yad2-notifier/pkg/notifier"
)

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sub, err := s.store.Load(r.Context(), id)
	if err != nil {
		if s.isNotFound(err) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}
		s.logger.Error("Failed to load subscription", "subscriber", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

// handlePutSubscription stores the search built from the onboarding answers:
// city (name or code), min_price, max_price, min_rooms, max_rooms.
func (s *Server) handlePutSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	q, err := parseSearchQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := s.store.Load(r.Context(), id)
	if err != nil && !s.isNotFound(err) {
		s.logger.Error("Failed to load subscription", "subscriber", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		sub = &notifier.Subscription{SubscriberID: id}
	}
	sub.SearchURL = q.URL()
	sub.Active = true

	if err := s.store.Save(r.Context(), sub); err != nil {
		s.logger.Error("Failed to save subscription", "subscriber", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Subscription updated", "subscriber", id, "url", sub.SearchURL)
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		found, err := s.store.SetActive(r.Context(), id, active)
		if err != nil {
			s.logger.Error("Failed to toggle subscription", "subscriber", id, "active", active, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}

		s.logger.Info("Subscription toggled", "subscriber", id, "active", active)
		s.writeJSON(w, http.StatusOK, map[string]any{"subscriber_id": id, "active": active})
	}
}

func parseSearchQuery(r *http.Request) (notifier.SearchQuery, error) {
	var q notifier.SearchQuery

	city := strings.TrimSpace(r.FormValue("city"))
	if code, ok := notifier.Cities[city]; ok {
		city = code
	}
	if _, err := strconv.Atoi(city); err != nil {
		return q, errBadField("city")
	}
	q.CityCode = city

	var err error
	if q.MinPrice, err = strconv.Atoi(r.FormValue("min_price")); err != nil || q.MinPrice < 0 {
		return q, errBadField("min_price")
	}
	if q.MaxPrice, err = strconv.Atoi(r.FormValue("max_price")); err != nil || q.MaxPrice < 0 {
		return q, errBadField("max_price")
	}
	if q.MinRooms, err = strconv.ParseFloat(r.FormValue("min_rooms"), 64); err != nil || q.MinRooms < 0 {
		return q, errBadField("min_rooms")
	}
	if q.MaxRooms, err = strconv.ParseFloat(r.FormValue("max_rooms"), 64); err != nil || q.MaxRooms < 0 {
		return q, errBadField("max_rooms")
	}
	return q.Normalize(), nil
}

type errBadField string

func (e errBadField) Error() string { return "invalid " + string(e) }
