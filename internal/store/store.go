package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/payla/internal/domain"
)

var (
	// ErrNotFound matches domain.ErrNotFound so callers can test either.
	ErrNotFound      = fmt.Errorf("document %w", domain.ErrNotFound)
	ErrAlreadyExists = errors.New("document already exists")
	ErrConflict      = errors.New("document changed concurrently")
)

type Op string

const (
	OpEq  Op = "=="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Filter compares a top-level document field against Value.
// Value may be a string, bool, integer, float or time.Time.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type QueryOptions struct {
	OrderBy string
	Limit   int
}

// Snapshot is one query result.
type Snapshot struct {
	ID   string
	Data json.RawMessage
}

func (s Snapshot) Decode(dst any) error {
	return json.Unmarshal(s.Data, dst)
}

// Store is a document-collection store without multi-document transactions.
// Create and UpdateIf are the only compare-and-set primitives.
type Store interface {
	Get(ctx context.Context, collection, id string, dst any) error
	Set(ctx context.Context, collection, id string, doc any) error
	Create(ctx context.Context, collection, id string, doc any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	UpdateIf(ctx context.Context, collection, id, field string, expected any, fields map[string]any) error
	Query(ctx context.Context, collection string, filters []Filter, opts QueryOptions) ([]Snapshot, error)
	Delete(ctx context.Context, collection, id string) error
	Close()
}

func validateFilters(filters []Filter) error {
	for _, f := range filters {
		switch f.Op {
		case OpEq, OpLt, OpLte, OpGt, OpGte:
		default:
			return fmt.Errorf("unsupported operator %q on %s: %w", f.Op, f.Field, domain.ErrValidation)
		}
		if f.Field == "" {
			return fmt.Errorf("empty filter field: %w", domain.ErrValidation)
		}
	}
	return nil
}

// normalize converts a filter or expected value into its JSON-decoded form
// so it can be compared against a decoded document.
func normalize(v any) (any, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// compare returns -1, 0 or 1, and false when the values are not comparable.
func compare(docValue, filterValue any) (int, bool) {
	switch fv := filterValue.(type) {
	case time.Time:
		s, ok := docValue.(string)
		if !ok {
			return 0, false
		}
		dt, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, false
		}
		return dt.Compare(fv), true
	case string:
		s, ok := docValue.(string)
		if !ok {
			return 0, false
		}
		switch {
		case s < fv:
			return -1, true
		case s > fv:
			return 1, true
		}
		return 0, true
	case float64:
		n, ok := docValue.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case n < fv:
			return -1, true
		case n > fv:
			return 1, true
		}
		return 0, true
	case bool:
		b, ok := docValue.(bool)
		if !ok || b != fv {
			return 1, ok
		}
		return 0, true
	case nil:
		if docValue == nil {
			return 0, true
		}
		return 1, true
	}
	return 0, false
}

func matches(doc map[string]any, f Filter, value any) bool {
	c, ok := compare(doc[f.Field], value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return c == 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}
