package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkokkai/billtracker/observability"
)

// PostgresStore implements Store on a PostgreSQL backend. Bills are stored
// as JSONB documents keyed by bill_id; filters compile to doc->>'field'
// equality clauses.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func observe(op string, start time.Time) {
	observability.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *PostgresStore) GetBill(ctx context.Context, billID string) (*BillRecord, error) {
	defer observe("get_bill", time.Now())

	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM bills WHERE bill_id = $1`, billID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec BillRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode bill %s: %w", billID, err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListBills(ctx context.Context, filter Filter, max int) ([]*BillRecord, error) {
	defer observe("list_bills", time.Now())

	query := `SELECT doc FROM bills`
	args := []any{}
	i := 1
	for k, v := range filter {
		if i == 1 {
			query += " WHERE "
		} else {
			query += " AND "
		}
		query += fmt.Sprintf("doc->>$%d = $%d", i, i+1)
		args = append(args, k, fmt.Sprintf("%v", v))
		i += 2
	}
	query += " ORDER BY bill_id"
	if max > 0 {
		query += fmt.Sprintf(" LIMIT %d", max)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BillRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec BillRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateBill(ctx context.Context, rec *BillRecord) error {
	defer observe("create_bill", time.Now())

	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now()
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bills (bill_id, doc, updated_at)
		VALUES ($1, $2, NOW())
	`, rec.BillID, doc)
	return err
}

// UpdateBill runs the read-modify-write inside a short transaction with a
// row lock, matching the per-bill transaction contract of the pipeline.
func (s *PostgresStore) UpdateBill(ctx context.Context, billID string, fields map[string]any) (*BillRecord, error) {
	defer observe("update_bill", time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM bills WHERE bill_id = $1 FOR UPDATE`, billID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec BillRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, err
	}
	updated, err := applyFields(&rec, fields)
	if err != nil {
		return nil, err
	}
	updated.LastUpdated = time.Now()

	newDoc, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE bills SET doc = $1, updated_at = NOW() WHERE bill_id = $2`, newDoc, billID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteBill(ctx context.Context, billID string) error {
	defer observe("delete_bill", time.Now())

	tag, err := s.pool.Exec(ctx, `DELETE FROM bills WHERE bill_id = $1`, billID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetMember(ctx context.Context, memberID string) (*Member, error) {
	defer observe("get_member", time.Now())

	var m Member
	err := s.pool.QueryRow(ctx, `
		SELECT member_id, name, name_kana, house, party, constituency, active, updated_at
		FROM members WHERE member_id = $1
	`, memberID).Scan(&m.MemberID, &m.Name, &m.NameKana, &m.House, &m.Party, &m.Constituency, &m.Active, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, filter Filter, max int) ([]*Member, error) {
	defer observe("list_members", time.Now())

	allowed := map[string]string{
		"house":        "house",
		"party":        "party",
		"constituency": "constituency",
		"active":       "active",
	}
	query := `
		SELECT member_id, name, name_kana, house, party, constituency, active, updated_at
		FROM members`
	args := []any{}
	n := 0
	for k, v := range filter {
		col, ok := allowed[k]
		if !ok {
			return nil, fmt.Errorf("unsupported member filter field %q", k)
		}
		n++
		if n == 1 {
			query += " WHERE "
		} else {
			query += " AND "
		}
		query += fmt.Sprintf("%s = $%d", col, n)
		args = append(args, v)
	}
	query += " ORDER BY member_id"
	if max > 0 {
		query += fmt.Sprintf(" LIMIT %d", max)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.MemberID, &m.Name, &m.NameKana, &m.House, &m.Party, &m.Constituency, &m.Active, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertMember(ctx context.Context, m *Member) error {
	defer observe("upsert_member", time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO members (member_id, name, name_kana, house, party, constituency, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (member_id) DO UPDATE SET
			name = EXCLUDED.name,
			name_kana = EXCLUDED.name_kana,
			house = EXCLUDED.house,
			party = EXCLUDED.party,
			constituency = EXCLUDED.constituency,
			active = EXCLUDED.active,
			updated_at = NOW()
	`, m.MemberID, m.Name, m.NameKana, m.House, m.Party, m.Constituency, m.Active)
	return err
}

func (s *PostgresStore) AppendHistory(ctx context.Context, ev *HistoryEvent) error {
	defer observe("append_history", time.Now())

	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now()
	}
	fields, err := json.Marshal(ev.CompletedFields)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bill_history (event_id, bill_id, event, strategy, completed_fields, processing_time_ms, quality_improvement, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.EventID, ev.BillID, ev.Event, ev.Strategy, fields, ev.ProcessingTimeMS, ev.QualityImprovement, ev.RecordedAt)
	return err
}

func (s *PostgresStore) ListHistory(ctx context.Context, billID string, limit int) ([]*HistoryEvent, error) {
	defer observe("list_history", time.Now())

	query := `
		SELECT event_id, bill_id, event, strategy, completed_fields, processing_time_ms, quality_improvement, recorded_at
		FROM bill_history WHERE bill_id = $1 ORDER BY recorded_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.pool.Query(ctx, query, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HistoryEvent
	for rows.Next() {
		var ev HistoryEvent
		var fields []byte
		if err := rows.Scan(&ev.EventID, &ev.BillID, &ev.Event, &ev.Strategy, &fields, &ev.ProcessingTimeMS, &ev.QualityImprovement, &ev.RecordedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(fields, &ev.CompletedFields)
		out = append(out, &ev)
	}
	return out, rows.Err()
}
