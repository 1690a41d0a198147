// Package storage implements the table store on a Postgres database owned by
// this process, publishing inserts through an in-process feed.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Storage struct {
	db   *gorm.DB
	feed *store.Feed
}

var _ store.Store = (*Storage)(nil)

// New wraps db. Open it with TranslateError so duplicate keys map to store.ErrConflict.
func New(db *gorm.DB) *Storage {
	return &Storage{db: db, feed: store.NewFeed()}
}

func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&models.User{},
		&models.Channel{},
		&models.Message{},
		&models.Setting{},
		&models.AuditEntry{},
	); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// SeedDefaults creates the default channel and the maintenance flag if missing.
func (s *Storage) SeedDefaults(ctx context.Context, defaultChannel string) error {
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Channel{ID: defaultChannel, Name: defaultChannel}).
			Error; err != nil {
			return fmt.Errorf("creating default channel: %w", err)
		}

		if err := tx.
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Setting{Key: models.SettingMaintenanceMode, Value: false}).
			Error; err != nil {
			return fmt.Errorf("creating maintenance setting: %w", err)
		}

		return nil
	}); err != nil {
		return fmt.Errorf("in tx: %w", err)
	}
	return nil
}

func (s *Storage) Select(ctx context.Context, table string, filter store.Filter, dest any) error {
	if err := applyFilter(s.db.WithContext(ctx).Table(table), filter).
		Find(dest).
		Error; err != nil {
		return fmt.Errorf("selecting %s: %w", table, err)
	}
	return nil
}

func (s *Storage) Insert(ctx context.Context, table string, record any) error {
	if err := s.db.WithContext(ctx).Table(table).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("inserting into %s: %w", table, store.ErrConflict)
		}
		return fmt.Errorf("inserting into %s: %w", table, err)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding inserted row: %w", err)
	}
	s.feed.Publish(table, raw)
	return nil
}

func (s *Storage) Update(ctx context.Context, table string, filter store.Filter, patch map[string]any) error {
	if len(filter.Conds) == 0 {
		return fmt.Errorf("refusing to update every row of %s", table)
	}

	values, err := encodePatch(table, patch)
	if err != nil {
		return err
	}

	if err := applyFilter(s.db.WithContext(ctx).Table(table), filter).
		Updates(values).
		Error; err != nil {
		return fmt.Errorf("updating %s: %w", table, err)
	}
	return nil
}

// jsonColumns are jsonb columns; map updates skip gorm serializers, so their
// values are encoded here.
var jsonColumns = map[string]map[string]bool{
	models.Setting{}.TableName(): {"value": true},
	models.User{}.TableName():    {"badges": true},
}

func encodePatch(table string, patch map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(patch))
	for column, value := range patch {
		if !jsonColumns[table][column] {
			values[column] = value
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s.%s: %w", table, column, err)
		}
		values[column] = gorm.Expr("?::jsonb", string(raw))
	}
	return values, nil
}

func (s *Storage) Subscribe(ctx context.Context, table string, filter store.Filter, onInsert store.InsertHandler) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.feed.Subscribe(table, filter, onInsert), nil
}

func (s *Storage) Unsubscribe(sub store.Subscription) {
	s.feed.Unsubscribe(sub)
}

func (s *Storage) Close() error {
	s.feed.Close()

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql db: %w", err)
	}
	return sqlDB.Close()
}

func applyFilter(q *gorm.DB, filter store.Filter) *gorm.DB {
	for _, cond := range filter.Conds {
		column := clause.Column{Name: cond.Column}
		switch cond.Op {
		case store.OpEq:
			q = q.Where(clause.Eq{Column: column, Value: cond.Value})
		case store.OpGt:
			q = q.Where(clause.Gt{Column: column, Value: cond.Value})
		}
	}
	if filter.Order != "" {
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: filter.Order}})
	}
	return q
}
