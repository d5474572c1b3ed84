package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrUnknownDriver = errors.New("unknown store driver")

// Entry is the single table backing GormKV.
type Entry struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     []byte
	UpdatedAt time.Time
}

func (Entry) TableName() string { return "kv_entries" }

type GormKV struct {
	db *gorm.DB
}

// Open returns the backend for driver: "memory", "sqlite" or "postgres".
func Open(driver, dsn string) (KV, error) {
	var dialector gorm.Dialector
	switch driver {
	case "memory", "":
		return NewMemoryKV(), nil
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return NewGormKV(db)
}

// NewGormKV migrates the entry table on db.
func NewGormKV(db *gorm.DB) (*GormKV, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate kv: %w", err)
	}
	log.Info().Str("module", "store").Str("dialect", db.Dialector.Name()).Msg("kv store ready")
	return &GormKV{db: db}, nil
}

func (g *GormKV) Get(ctx context.Context, key string) ([]byte, error) {
	var e Entry
	err := g.db.WithContext(ctx).Where("key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %v: %w", key, err, domain.ErrTransientStore)
	}
	return e.Value, nil
}

func (g *GormKV) Set(ctx context.Context, key string, value []byte) error {
	e := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("set %s: %v: %w", key, err, domain.ErrTransientStore)
	}
	return nil
}
