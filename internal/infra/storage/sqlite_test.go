package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quote_keeper/internal/domain"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConfigPersistence(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveConfig("symbol", "ETHUSDT"); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if err := s.SaveConfig("symbol", "BTCUSDT"); err != nil {
		t.Fatalf("SaveConfig overwrite failed: %v", err)
	}

	v, err := s.LoadConfig("symbol")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if v != "BTCUSDT" {
		t.Errorf("expected BTCUSDT, got %s", v)
	}
}

func TestLoadConfig_NotFound(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.LoadConfig("missing")
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLastEmergencyClose(t *testing.T) {
	s := setupTestDB(t)

	got, err := s.LoadLastEmergencyClose()
	if err != nil {
		t.Fatalf("LoadLastEmergencyClose failed: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero time before any close, got %v", got)
	}

	closedAt := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
	if err := s.SaveLastEmergencyClose(closedAt); err != nil {
		t.Fatalf("SaveLastEmergencyClose failed: %v", err)
	}

	got, err = s.LoadLastEmergencyClose()
	if err != nil {
		t.Fatalf("LoadLastEmergencyClose failed: %v", err)
	}
	if !got.Equal(closedAt) {
		t.Errorf("expected %v, got %v", closedAt, got)
	}
}

func TestLastEmergencyClose_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	closedAt := time.Now().Truncate(time.Millisecond)

	first, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	if err := first.SaveLastEmergencyClose(closedAt); err != nil {
		t.Fatalf("SaveLastEmergencyClose failed: %v", err)
	}
	first.Close()

	second, err := Open(filepath.Join(dir, dbFileName))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer second.Close()

	got, err := second.LoadLastEmergencyClose()
	if err != nil {
		t.Fatalf("LoadLastEmergencyClose failed: %v", err)
	}
	if !got.Equal(closedAt) {
		t.Errorf("expected %v after reopen, got %v", closedAt, got)
	}
}

func TestLastEmergencyClose_Corrupt(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveConfig(keyLastEmergencyClose, "yesterday"); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if _, err := s.LoadLastEmergencyClose(); err == nil {
		t.Error("expected an error for a corrupt timestamp")
	}
}
