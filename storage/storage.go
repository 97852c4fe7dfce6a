// Package storage handles persistence of subscriptions.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"yad2-notifier/pkg/notifier"
)

// ErrNotFound is returned when no subscription exists for an id.
var ErrNotFound = errors.New("storage: object doesn't exist")

// Chat ids are signed 64-bit integers; group chats are negative.
var subscriberIDPattern = regexp.MustCompile(`^-?\d{1,20}$`)

// Store handles subscription persistence in a local directory or a Cloud Storage bucket.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	now       func() time.Time
}

// New creates a new storage handler. localPath takes precedence over the bucket.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
		now:       time.Now,
	}
}

// SubscriptionKey returns the object name for a subscriber, or "" when the id is malformed.
func SubscriptionKey(subscriberID string) string {
	if !subscriberIDPattern.MatchString(subscriberID) {
		return ""
	}
	return fmt.Sprintf("sub-%s.json", subscriberID)
}

// IsNotFound checks if an error indicates a subscription was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Save writes sub, stamping CreatedAt on first save and UpdatedAt always.
func (s *Store) Save(ctx context.Context, sub *notifier.Subscription) error {
	key := SubscriptionKey(sub.SubscriberID)
	if key == "" {
		return fmt.Errorf("invalid subscriber id %q", sub.SubscriberID)
	}

	now := s.now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	if err := s.write(ctx, key, data); err != nil {
		return err
	}

	s.logger.Info("Subscription saved", "key", key, "subscriber", sub.SubscriberID, "active", sub.Active)
	return nil
}

// Load reads the subscription for subscriberID.
func (s *Store) Load(ctx context.Context, subscriberID string) (*notifier.Subscription, error) {
	key := SubscriptionKey(subscriberID)
	if key == "" {
		return nil, ErrNotFound
	}
	return s.loadKey(ctx, key)
}

// SetActive toggles notifications for subscriberID. found is false when there is no such subscriber.
func (s *Store) SetActive(ctx context.Context, subscriberID string, active bool) (found bool, err error) {
	sub, err := s.Load(ctx, subscriberID)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sub.Active = active
	if err := s.Save(ctx, sub); err != nil {
		return true, err
	}
	return true, nil
}

// Delete removes a subscription. Deleting a missing subscription is not an error.
func (s *Store) Delete(ctx context.Context, subscriberID string) error {
	key := SubscriptionKey(subscriberID)
	if key == "" {
		return fmt.Errorf("invalid subscriber id %q", subscriberID)
	}
	if err := s.remove(ctx, key); err != nil {
		return err
	}
	s.logger.Info("Subscription deleted", "key", key, "subscriber", subscriberID)
	return nil
}

// List returns every subscription in key order. Unreadable objects are logged and skipped.
func (s *Store) List(ctx context.Context) ([]*notifier.Subscription, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}

	subs := make([]*notifier.Subscription, 0, len(keys))
	for _, key := range keys {
		sub, err := s.loadKey(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to load subscription", "key", key, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ListActive returns the subscriptions with notifications enabled.
func (s *Store) ListActive(ctx context.Context) ([]*notifier.Subscription, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, sub := range all {
		if sub.Active {
			active = append(active, sub)
		}
	}
	return active, nil
}

func (s *Store) loadKey(ctx context.Context, key string) (*notifier.Subscription, error) {
	data, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	var sub notifier.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	err := s.withRetry(ctx, "save", key, func() error {
		w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
		w.ContentType = "application/json"
		if _, writeErr := w.Write(data); writeErr != nil {
			if closeErr := w.Close(); closeErr != nil {
				s.logger.Warn("Failed to close writer after error", "error", closeErr)
			}
			return fmt.Errorf("write to storage: %w", writeErr)
		}
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("close storage writer: %w", closeErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, key))
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := s.withRetry(ctx, "load", key, func() error {
		r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
		if errors.Is(openErr, storage.ErrObjectNotExist) {
			return retry.Unrecoverable(ErrNotFound)
		}
		if openErr != nil {
			return fmt.Errorf("open storage reader: %w", openErr)
		}
		defer func() {
			if closeErr := r.Close(); closeErr != nil {
				s.logger.Warn("Failed to close storage reader", "error", closeErr)
			}
		}()

		var readErr error
		data, readErr = io.ReadAll(r)
		if readErr != nil {
			return fmt.Errorf("read from storage: %w", readErr)
		}
		return nil
	})
	if IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

func (s *Store) remove(ctx context.Context, key string) error {
	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	err := s.withRetry(ctx, "delete", key, func() error {
		deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
		if errors.Is(deleteErr, storage.ErrObjectNotExist) {
			return nil
		}
		if deleteErr != nil {
			return fmt.Errorf("delete from storage: %w", deleteErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}
	return nil
}

func (s *Store) keys(ctx context.Context) ([]string, error) {
	var keys []string

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), "sub-") || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, entry.Name())
		}
		sort.Strings(keys)
		return keys, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: "sub-"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if strings.HasSuffix(attrs.Name, ".json") {
			keys = append(keys, attrs.Name)
		}
	}
	return keys, nil
}

func (s *Store) withRetry(ctx context.Context, op, key string, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", retryErr)
		}),
	)
}
