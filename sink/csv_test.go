package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"catalog-harvester/harvest"
)

func record(id, name string) harvest.EnrichedRecord {
	return harvest.EnrichedRecord{
		ListingRecord: harvest.ListingRecord{
			ProductID:  id,
			ProductURL: "https://catalog.example/product/" + id,
			Name:       name,
			Badges:     []string{"bestseller", "new"},
		},
		SKU:       "SKU-" + id,
		ScrapedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestCSVSinkCreatesHeaderAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	s, err := OpenCSVSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close(context.Background())

	n, err := s.PersistBatch(context.Background(), []harvest.EnrichedRecord{
		record("a1", "Candle"),
		record("b2", "Vase"),
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if n != 2 {
		t.Errorf("persisted = %d, want 2", n)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body := string(b)
	if !strings.HasPrefix(body, "\xEF\xBB\xBF"+"product_id,") {
		t.Error("missing BOM or header row")
	}
	if !strings.Contains(body, "bestseller|new") {
		t.Error("badges should be pipe joined")
	}
	if !strings.Contains(body, "2026-08-30T12:00:00Z") {
		t.Error("scraped_at should be RFC3339")
	}
	lines := strings.Count(strings.TrimRight(body, "\n"), "\n") + 1
	if lines != 3 {
		t.Errorf("line count = %d, want header + 2 rows", lines)
	}
}

func TestCSVSinkDedupsWithinRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := OpenCSVSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close(context.Background())

	batch := []harvest.EnrichedRecord{record("a1", "Candle"), record("a1", "Candle")}
	if n, _ := s.PersistBatch(context.Background(), batch); n != 1 {
		t.Errorf("first batch persisted %d, want 1", n)
	}
	if n, _ := s.PersistBatch(context.Background(), batch); n != 0 {
		t.Errorf("repeat batch persisted %d, want 0", n)
	}
}

func TestCSVSinkDedupsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	s, err := OpenCSVSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.PersistBatch(context.Background(), []harvest.EnrichedRecord{record("a1", "Candle")}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenCSVSink(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close(context.Background())

	n, err := s2.PersistBatch(context.Background(), []harvest.EnrichedRecord{
		record("a1", "Candle"),
		record("c3", "Tray"),
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if n != 1 {
		t.Errorf("persisted = %d, want only the unseen row", n)
	}
}

func TestCSVSinkRebuildsSidecarFromEditedCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	s, err := OpenCSVSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.PersistBatch(context.Background(), []harvest.EnrichedRecord{record("a1", "Candle")}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a manual edit: the CSV becomes newer than its sidecar.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	known := ensureIDsIndex(path, path+".ids")
	if _, ok := known["a1"]; !ok {
		t.Error("rebuilt index should contain a1 scanned from the CSV")
	}
}

func TestCSVSinkLockBlocksSecondWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	s, err := OpenCSVSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close(context.Background())

	if _, err := OpenCSVSink(path); err == nil {
		t.Error("second writer should be refused while the lock is held")
	}
}

func TestCSVSinkStaleLockIsStolen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	lock := path + ".lock"
	if err := os.WriteFile(lock, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	old := time.Now().Add(-lockTTL - time.Minute)
	if err := os.Chtimes(lock, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	s, err := OpenCSVSink(path)
	if err != nil {
		t.Fatalf("stale lock should be stolen, got: %v", err)
	}
	s.Close(context.Background())
}
