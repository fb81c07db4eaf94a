package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Desarso/finchat/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// gormKV implements the KVStore operations on any GORM connection.
// SQLiteStore and PostgresStore only differ in how they open the connection.
type gormKV struct {
	db       *gorm.DB
	logLevel logger.LogLevel
}

func newGormKV(config *StoreConfig) (gormKV, error) {
	level, err := parseLogLevel(config.Options[OptionLogLevel])
	if err != nil {
		return gormKV{}, err
	}
	return gormKV{logLevel: level}, nil
}

// parseLogLevel maps the log_level option to a GORM log level. Empty means warn.
func parseLogLevel(value string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "warn":
		return logger.Warn, nil
	case "silent":
		return logger.Silent, nil
	case "error":
		return logger.Error, nil
	case "info":
		return logger.Info, nil
	default:
		return 0, fmt.Errorf("invalid %s option: %q", OptionLogLevel, value)
	}
}

func (s *gormKV) gormConfig() *gorm.Config {
	level := s.logLevel
	if level == 0 {
		level = logger.Warn
	}
	return &gorm.Config{Logger: logger.Default.LogMode(level)}
}

func (s *gormKV) migrate() error {
	if err := s.db.AutoMigrate(&KVEntry{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

// DB exposes the underlying connection so other tables (traces) can share it.
func (s *gormKV) DB() *gorm.DB {
	return s.db
}

func (s *gormKV) Get(ctx context.Context, key string) (string, error) {
	if s.db == nil {
		return "", &StorageError{Op: "get", Key: key, Err: fmt.Errorf("database connection is nil")}
	}

	var entry KVEntry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Limit(1).Find(&entry).Error
	if err != nil {
		return "", &StorageError{Op: "get", Key: key, Err: err}
	}
	if entry.Key == "" {
		return "", &StorageError{Op: "get", Key: key, Err: models.ErrNotFound}
	}
	return entry.Value, nil
}

func (s *gormKV) Set(ctx context.Context, key, value string) error {
	if s.db == nil {
		return &StorageError{Op: "set", Key: key, Err: fmt.Errorf("database connection is nil")}
	}

	entry := KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *gormKV) Remove(ctx context.Context, key string) error {
	if s.db == nil {
		return &StorageError{Op: "remove", Key: key, Err: fmt.Errorf("database connection is nil")}
	}
	if err := s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&KVEntry{}).Error; err != nil {
		return &StorageError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

func (s *gormKV) PruneOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, &StorageError{Op: "prune", Key: prefix, Err: fmt.Errorf("database connection is nil")}
	}

	query := s.db.WithContext(ctx).Where("updated_at < ?", cutoff)
	if prefix != "" {
		query = query.Where("entry_key LIKE ?", prefix+"%")
	}
	result := query.Delete(&KVEntry{})
	if result.Error != nil {
		return 0, &StorageError{Op: "prune", Key: prefix, Err: result.Error}
	}
	return result.RowsAffected, nil
}

func (s *gormKV) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func (s *gormKV) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}

// StorageError is an alias so callers of this package need not import models for it.
type StorageError = models.StorageError

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
