package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

type Op string

const (
	OpEq Op = "eq"
	OpGt Op = "gt"
)

type Cond struct {
	Column string
	Op     Op
	Value  any
}

func (c Cond) String() string {
	return fmt.Sprintf("%s=%s.%v", c.Column, c.Op, c.Value)
}

// Filter is a conjunction of column conditions plus an optional ascending order.
type Filter struct {
	Conds []Cond
	Order string
}

func All() Filter {
	return Filter{}
}

func Eq(column string, value any) Filter {
	return Filter{}.Eq(column, value)
}

func (f Filter) Eq(column string, value any) Filter {
	f.Conds = append(slices.Clone(f.Conds), Cond{Column: column, Op: OpEq, Value: value})
	return f
}

func (f Filter) Gt(column string, value any) Filter {
	f.Conds = append(slices.Clone(f.Conds), Cond{Column: column, Op: OpGt, Value: value})
	return f
}

func (f Filter) OrderBy(column string) Filter {
	f.Order = column
	return f
}

func (f Filter) String() string {
	parts := make([]string, 0, len(f.Conds))
	for _, c := range f.Conds {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "&")
}

// Match reports whether a decoded row satisfies every condition.
func (f Filter) Match(row map[string]any) bool {
	for _, c := range f.Conds {
		v, ok := row[c.Column]
		if !ok {
			return false
		}
		cmp, ok := compare(v, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			if cmp != 0 {
				return false
			}
		case OpGt:
			if cmp <= 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// DecodeRow decodes a JSON object keeping numbers exact.
func DecodeRow(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	}
	return row, nil
}

// compare orders two scalar values. The second result is false when the
// values are not comparable.
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch av := a.(type) {
	case string:
		bv, ok := toString(b)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok || av != bv {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}

func toString(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.String {
		return "", false
	}
	return rv.String(), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func formatID(id int64) json.Number {
	return json.Number(strconv.FormatInt(id, 10))
}
