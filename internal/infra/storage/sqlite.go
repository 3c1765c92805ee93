package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quote_keeper/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	dbFileName = "quote_keeper.db"

	keyLastEmergencyClose = "engine.last_emergency_close"
)

// Storage persists small key-value state in SQLite (pure Go driver).
// It implements domain.StateStore.
type Storage struct {
	db *gorm.DB
}

var _ domain.StateStore = (*Storage)(nil)

// NewStorage opens (or creates) the database under dataDir.
func NewStorage(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}
	return Open(filepath.Join(dataDir, dbFileName))
}

// Open connects to the database file at dbPath and migrates the schema.
func Open(dbPath string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig upserts a key-value pair.
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfig returns the value stored under key, or domain.ErrConfigNotFound.
func (s *Storage) LoadConfig(key string) (string, error) {
	var config domain.AppConfig
	err := s.db.Where(&domain.AppConfig{Key: key}).First(&config).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrConfigNotFound
	}
	if err != nil {
		return "", err
	}
	return config.Value, nil
}

// ======================================================================================
// Engine State
// ======================================================================================

// SaveLastEmergencyClose persists the cooldown anchor.
func (s *Storage) SaveLastEmergencyClose(t time.Time) error {
	return s.SaveConfig(keyLastEmergencyClose, t.UTC().Format(time.RFC3339Nano))
}

// LoadLastEmergencyClose returns the zero time when no close was ever recorded.
func (s *Storage) LoadLastEmergencyClose() (time.Time, error) {
	v, err := s.LoadConfig(keyLastEmergencyClose)
	if errors.Is(err, domain.ErrConfigNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt %s value %q: %w", keyLastEmergencyClose, v, err)
	}
	return t, nil
}
