package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func TestTransferSweeper_Sweep(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)

	mk := func(name string, dirEntry bool, mtime time.Time) {
		t.Helper()
		p := filepath.Join(dir, name)
		if dirEntry {
			if err := os.MkdirAll(filepath.Join(p, "captions"), 0755); err != nil {
				t.Fatal(err)
			}
		} else if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	mk("stale-export", true, old)
	mk("stale.zip", false, old)
	mk("fresh-export", true, time.Now())
	mk(locksDir, true, old)

	sweeper := NewTransferSweeper(dir, 24*time.Hour, testLogger())
	removed, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	entries, _ := os.ReadDir(dir)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	sort.Strings(left)
	want := []string{locksDir, "fresh-export"}
	if len(left) != len(want) || left[0] != want[0] || left[1] != want[1] {
		t.Errorf("remaining = %v, want %v", left, want)
	}
}

func TestTransferSweeper_MissingDirectory(t *testing.T) {
	sweeper := NewTransferSweeper(filepath.Join(t.TempDir(), "missing"), time.Hour, testLogger())
	if err := sweeper.Run(context.Background()); err != nil {
		t.Errorf("Run on a missing directory should succeed, got %v", err)
	}
	if sweeper.Name() == "" {
		t.Error("Name should not be empty")
	}
}

func TestTransferSweeper_DisabledTTL(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "old.zip")
	os.WriteFile(p, []byte("x"), 0644)
	old := time.Now().Add(-time.Hour * 1000)
	os.Chtimes(p, old, old)

	removed, err := NewTransferSweeper(dir, 0, testLogger()).Sweep(context.Background())
	if err != nil || removed != 0 {
		t.Errorf("Sweep = %d, %v; want 0, nil", removed, err)
	}
}
