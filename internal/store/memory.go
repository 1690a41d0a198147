package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Memory is an in-process Store. It backs the memory:// store URL and tests.
type Memory struct {
	mu     sync.Mutex
	tables map[string]*memoryTable
	feed   *Feed
}

type memoryTable struct {
	rows   []map[string]any
	autoID bool
	nextID int64
	unique []string
}

type TableOption func(*memoryTable)

// AutoIncrement assigns an increasing numeric id to rows inserted without one.
func AutoIncrement() TableOption {
	return func(t *memoryTable) {
		t.autoID = true
	}
}

func Unique(columns ...string) TableOption {
	return func(t *memoryTable) {
		t.unique = append(t.unique, columns...)
	}
}

func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string]*memoryTable),
		feed:   NewFeed(),
	}
}

// Define declares table constraints. Tables are otherwise created on first insert.
func (m *Memory) Define(table string, opts ...TableOption) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	for _, opt := range opts {
		opt(t)
	}
}

func (m *Memory) table(name string) *memoryTable {
	t, ok := m.tables[name]
	if !ok {
		t = &memoryTable{}
		m.tables[name] = t
	}
	return t
}

func (m *Memory) Select(ctx context.Context, table string, filter Filter, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	matched := make([]map[string]any, 0)
	if t, ok := m.tables[table]; ok {
		for _, row := range t.rows {
			if filter.Match(row) {
				matched = append(matched, row)
			}
		}
	}
	if filter.Order != "" {
		slices.SortStableFunc(matched, func(a, b map[string]any) int {
			c, _ := compare(a[filter.Order], b[filter.Order])
			return c
		})
	}
	raw, err := json.Marshal(matched)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding rows: %w", err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decoding rows: %w", err)
	}
	return nil
}

func (m *Memory) Insert(ctx context.Context, table string, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	row, err := DecodeRow(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	t := m.table(table)

	for _, col := range t.unique {
		v, ok := row[col]
		if !ok {
			continue
		}
		for _, existing := range t.rows {
			if c, ok := compare(existing[col], v); ok && c == 0 {
				m.mu.Unlock()
				return fmt.Errorf("%w: duplicate value for %s.%s", ErrConflict, table, col)
			}
		}
	}

	if t.autoID {
		if id, ok := toFloat(row["id"]); ok && id != 0 {
			t.nextID = max(t.nextID, int64(id))
		} else {
			t.nextID++
			row["id"] = formatID(t.nextID)
		}
	}

	t.rows = append(t.rows, row)
	stored, err := json.Marshal(row)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding stored row: %w", err)
	}

	// Generated columns are written back when record is a pointer; other
	// record kinds are left untouched.
	_ = json.Unmarshal(stored, record)

	m.feed.Publish(table, stored)
	return nil
}

func (m *Memory) Update(ctx context.Context, table string, filter Filter, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	normalized, err := DecodeRow(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	for _, row := range t.rows {
		if !filter.Match(row) {
			continue
		}
		for k, v := range normalized {
			row[k] = v
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, table string, filter Filter, onInsert InsertHandler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.feed.Subscribe(table, filter, onInsert), nil
}

func (m *Memory) Unsubscribe(sub Subscription) {
	m.feed.Unsubscribe(sub)
}
