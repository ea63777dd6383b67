package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when an identifier resolves to nothing.
var ErrNotFound = errors.New("not found")

// Filter is a conjunction of field equalities over scalar fields. Keys use
// the record's JSON field names. No join semantics are assumed.
type Filter map[string]any

// Store is the record store: the single source of truth for bills and
// members. All pipeline components receive read-only copies and emit new
// versions through Update.
type Store interface {
	GetBill(ctx context.Context, billID string) (*BillRecord, error)
	ListBills(ctx context.Context, filter Filter, max int) ([]*BillRecord, error)
	CreateBill(ctx context.Context, rec *BillRecord) error
	// UpdateBill applies a partial field update keyed by JSON field name and
	// returns the resulting record.
	UpdateBill(ctx context.Context, billID string, fields map[string]any) (*BillRecord, error)
	DeleteBill(ctx context.Context, billID string) error

	GetMember(ctx context.Context, memberID string) (*Member, error)
	ListMembers(ctx context.Context, filter Filter, max int) ([]*Member, error)
	UpsertMember(ctx context.Context, m *Member) error

	AppendHistory(ctx context.Context, ev *HistoryEvent) error
	ListHistory(ctx context.Context, billID string, limit int) ([]*HistoryEvent, error)
}

// matchesFilter evaluates the conjunction against the record's JSON form.
// Numeric filter values compare loosely because JSON round-trips integers
// through float64.
func matchesFilter(doc map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toDoc converts a struct to its JSON object form.
func toDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// applyFields merges a partial field map into a record via its JSON form.
func applyFields(rec *BillRecord, fields map[string]any) (*BillRecord, error) {
	doc, err := toDoc(rec)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out BillRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
