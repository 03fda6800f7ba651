package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps every collection in one JSONB documents table.
type PostgresStore struct {
	Db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string, dst any) error {
	var data []byte
	err := s.Db.QueryRow(ctx,
		"SELECT data FROM documents WHERE collection = $1 AND id = $2",
		collection, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return json.Unmarshal(data, dst)
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = s.Db.Exec(ctx,
		`INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, data,
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, collection, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = s.Db.Exec(ctx,
		"INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)",
		collection, id, data,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode patch %s/%s: %w", collection, id, err)
	}
	tag, err := s.Db.Exec(ctx,
		"UPDATE documents SET data = data || $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2",
		collection, id, patch,
	)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateIf(ctx context.Context, collection, id, field string, expected any, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode patch %s/%s: %w", collection, id, err)
	}
	cond, arg, err := condition(field, OpEq, expected, 4)
	if err != nil {
		return err
	}
	args := []any{collection, id, patch}
	if arg != nil {
		args = append(args, arg)
	}
	tag, err := s.Db.Exec(ctx,
		"UPDATE documents SET data = data || $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2 AND "+cond,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update-if %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.Db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM documents WHERE collection = $1 AND id = $2)",
			collection, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("update-if %s/%s: %w", collection, id, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters []Filter, opts QueryOptions) ([]Snapshot, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT id, data FROM documents WHERE collection = $1")
	args := []any{collection}
	for _, f := range filters {
		cond, arg, err := condition(f.Field, f.Op, f.Value, len(args)+1)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" AND ")
		sb.WriteString(cond)
		if arg != nil {
			args = append(args, arg)
		}
	}
	if opts.OrderBy != "" {
		args = append(args, opts.OrderBy)
		fmt.Fprintf(&sb, " ORDER BY data->>$%d, id", len(args))
	} else {
		sb.WriteString(" ORDER BY id")
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.Db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var data []byte
		if err := rows.Scan(&snap.ID, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		snap.Data = data
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.Db.Exec(ctx, "DELETE FROM documents WHERE collection = $1 AND id = $2", collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// condition renders one field comparison. Field names are bound through
// quoteField, never interpolated raw; the value is placeholder n.
func condition(field string, op Op, value any, n int) (string, any, error) {
	key, err := quoteField(field)
	if err != nil {
		return "", nil, err
	}
	switch v := value.(type) {
	case nil:
		if op != OpEq {
			return "", nil, fmt.Errorf("null comparison needs ==, got %s", op)
		}
		return fmt.Sprintf("(data->%s IS NULL OR data->%s = 'null'::jsonb)", key, key), nil, nil
	case time.Time:
		return fmt.Sprintf("(data->>%s)::timestamptz %s $%d", key, sqlOp(op), n), v, nil
	case string:
		return fmt.Sprintf("data->>%s %s $%d", key, sqlOp(op), n), v, nil
	case bool:
		if op != OpEq {
			return "", nil, fmt.Errorf("bool comparison needs ==, got %s", op)
		}
		return fmt.Sprintf("(data->>%s)::boolean = $%d", key, n), v, nil
	case int, int32, int64, float64:
		return fmt.Sprintf("(data->>%s)::numeric %s $%d", key, sqlOp(op), n), v, nil
	default:
		// Named string types (statuses, channels) compare as JSON values.
		b, err := json.Marshal(v)
		if err != nil {
			return "", nil, err
		}
		if op == OpEq {
			return fmt.Sprintf("data->%s = $%d::jsonb", key, n), string(b), nil
		}
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", nil, fmt.Errorf("unsupported filter value %T", value)
		}
		return fmt.Sprintf("data->>%s %s $%d", key, sqlOp(op), n), s, nil
	}
}

func quoteField(field string) (string, error) {
	for _, r := range field {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", fmt.Errorf("invalid field name %q", field)
		}
	}
	return "'" + field + "'", nil
}

func sqlOp(op Op) string {
	if op == OpEq {
		return "="
	}
	return string(op)
}
