package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"yad2-notifier/config"
)

func TestNewLoggerWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	cfg, err := config.FromEnv(func(k string) string {
		if k == "LOG_FILE" {
			return path
		}
		return ""
	})
	if err != nil {
		t.Fatal(err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("Scan summary", "subscriber", "42", "new", 1)
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"Scan summary"`) || !strings.Contains(string(data), `"subscriber":"42"`) {
		t.Errorf("log file = %s", data)
	}
}

func TestOpenLedgerDefaultsToSQLite(t *testing.T) {
	cfg, err := config.FromEnv(func(k string) string {
		if k == "LEDGER_PATH" {
			return filepath.Join(t.TempDir(), "ledger.db")
		}
		return ""
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	l, err := openLedger(ctx, cfg)
	if err != nil {
		t.Fatalf("openLedger() error = %v", err)
	}
	defer l.Close()

	if err := l.Record(ctx, "abc", "42"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ok, err := l.AlreadyNotified(ctx, "abc", "42"); err != nil || !ok {
		t.Errorf("AlreadyNotified() = (%v, %v)", ok, err)
	}
}
