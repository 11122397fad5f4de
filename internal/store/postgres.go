package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// FetchCollection returns the user's records in one collection, newest first.
func (s *PostgresStore) FetchCollection(ctx context.Context, userID string, c Collection) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data
		FROM documents
		WHERE user_id=$1 AND collection=$2
		ORDER BY created_at DESC, id
	`, userID, string(c))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c, err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.Singular(), err)
		}
		doc := Document{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", c.Singular(), id, err)
		}
		doc["id"] = id
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c, err)
	}
	return items, nil
}

func (s *PostgresStore) SetDocument(ctx context.Context, userID string, c Collection, doc Document) error {
	return setDocument(ctx, s.db, userID, c, doc.ID(), doc)
}

// MergeDocument applies patch on top of the stored data. A missing record is
// created from the patch.
func (s *PostgresStore) MergeDocument(ctx context.Context, userID string, c Collection, id string, patch Document) error {
	return mergeDocument(ctx, s.db, userID, c, id, patch)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, userID string, c Collection, id string) error {
	return deleteDocument(ctx, s.db, userID, c, id)
}

// ApplyBatch runs every op of b in one transaction.
func (s *PostgresStore) ApplyBatch(ctx context.Context, userID string, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	for i, op := range b.ops {
		if err := applyOp(ctx, tx, userID, op); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("batch op %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasDocuments(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE user_id=$1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check documents: %w", err)
	}
	return exists, nil
}

// CountDocuments returns the number of records per collection for a user.
func (s *PostgresStore) CountDocuments(ctx context.Context, userID string) (map[Collection]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, COUNT(*)
		FROM documents
		WHERE user_id=$1
		GROUP BY collection
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[Collection]int, len(AllCollections))
	for rows.Next() {
		var (
			name  string
			count int
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan document count: %w", err)
		}
		counts[Collection(name)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document counts: %w", err)
	}
	return counts, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyOp(ctx context.Context, ex execer, userID string, op BatchOp) error {
	switch op.Kind {
	case OpSet:
		return setDocument(ctx, ex, userID, op.Collection, op.ID, op.Data)
	case OpMerge:
		return mergeDocument(ctx, ex, userID, op.Collection, op.ID, op.Data)
	case OpDelete:
		return deleteDocument(ctx, ex, userID, op.Collection, op.ID)
	case OpDeleteCollection:
		if _, err := ex.ExecContext(ctx, `DELETE FROM documents WHERE user_id=$1 AND collection=$2`, userID, string(op.Collection)); err != nil {
			return fmt.Errorf("clear %s: %w", op.Collection, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown batch op %q", op.Kind)
	}
}

// clock_timestamp keeps insertion order visible inside a single transaction,
// where NOW() would give every row the same created_at.
func setDocument(ctx context.Context, ex execer, userID string, c Collection, id string, doc Document) error {
	raw, err := encodeData(id, doc)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO documents (user_id, collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, clock_timestamp(), clock_timestamp())
		ON CONFLICT (user_id, collection, id)
		DO UPDATE SET data=EXCLUDED.data, updated_at=clock_timestamp()
	`, userID, string(c), id, raw)
	if err != nil {
		return fmt.Errorf("set %s %s: %w", c.Singular(), id, err)
	}
	return nil
}

func mergeDocument(ctx context.Context, ex execer, userID string, c Collection, id string, patch Document) error {
	raw, err := encodeData(id, patch)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO documents (user_id, collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, clock_timestamp(), clock_timestamp())
		ON CONFLICT (user_id, collection, id)
		DO UPDATE SET data=documents.data || EXCLUDED.data, updated_at=clock_timestamp()
	`, userID, string(c), id, raw)
	if err != nil {
		return fmt.Errorf("merge %s %s: %w", c.Singular(), id, err)
	}
	return nil
}

func deleteDocument(ctx context.Context, ex execer, userID string, c Collection, id string) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM documents WHERE user_id=$1 AND collection=$2 AND id=$3`, userID, string(c), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", c.Singular(), id, err)
	}
	return nil
}

var errMissingID = errors.New("document id is required")

func encodeData(id string, doc Document) (string, error) {
	if id == "" {
		return "", errMissingID
	}
	data := doc.Clone()
	data["id"] = id
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode document %s: %w", id, err)
	}
	return string(raw), nil
}
