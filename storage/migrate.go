package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"yad2-notifier/pkg/notifier"
)

// legacyEntry is one value of the old users.json map. Older files stored the
// search URL directly; newer ones stored an object.
type legacyEntry struct {
	URL    string `json:"url"`
	Active *bool  `json:"active"`
}

func (e *legacyEntry) UnmarshalJSON(data []byte) error {
	var url string
	if err := json.Unmarshal(data, &url); err == nil {
		e.URL = url
		return nil
	}
	type plain legacyEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = legacyEntry(p)
	return nil
}

// MigrateLegacy imports subscribers from a users.json file keyed by chat id.
// Entries already present in the store are left untouched. On success the file
// is renamed to path + ".bak" so the import runs once. A missing file is a no-op.
func (s *Store) MigrateLegacy(ctx context.Context, path string) (imported int, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read legacy users: %w", err)
	}

	var users map[string]legacyEntry
	if err := json.Unmarshal(data, &users); err != nil {
		return 0, fmt.Errorf("parse legacy users: %w", err)
	}

	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		entry := users[id]
		if SubscriptionKey(id) == "" || entry.URL == "" {
			s.logger.Warn("Skipping malformed legacy subscriber", "subscriber", id)
			continue
		}
		if _, err := s.Load(ctx, id); err == nil {
			continue
		} else if !IsNotFound(err) {
			return imported, fmt.Errorf("check existing subscriber %s: %w", id, err)
		}

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		sub := &notifier.Subscription{SubscriberID: id, SearchURL: entry.URL, Active: active}
		if err := s.Save(ctx, sub); err != nil {
			return imported, fmt.Errorf("import subscriber %s: %w", id, err)
		}
		imported++
	}

	if err := os.Rename(path, path+".bak"); err != nil {
		return imported, fmt.Errorf("archive legacy users: %w", err)
	}
	s.logger.Info("Legacy subscribers migrated", "path", path, "imported", imported, "total", len(ids))
	return imported, nil
}
