package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atlasrag.yaml")
	if err := DefaultConfig().SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Give the watch a moment to attach before writing.
	time.Sleep(100 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.SQL.MaxRows = 42
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		if got.SQL.MaxRows != 42 {
			t.Errorf("MaxRows = %d, want 42", got.SQL.MaxRows)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	<-done
}

func TestWatcherKeepsPreviousOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atlasrag.yaml")
	if err := DefaultConfig().SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) { changed <- cfg }, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	// max_queries 0 fails validation; the callback must not fire.
	invalid := []byte("sql:\n  max_queries: -1\n")
	if err := os.WriteFile(path, invalid, 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
		t.Fatal("invalid config should not trigger the callback")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNewWatcherValidation(t *testing.T) {
	if _, err := NewWatcher("", func(*Config) {}, nil); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := NewWatcher("/tmp/x.yaml", nil, nil); err == nil {
		t.Error("expected error for nil callback")
	}
}
