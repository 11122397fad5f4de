package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"tillbook/api/internal/store"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const titleExpr = `coalesce(nullif(data->>'name', ''), data->>'invoiceNumber', '')`

const bodyExpr = `concat_ws(' ', data->>'description', data->>'email', data->>'customerName')`

// buildQuery returns the WHERE clause and its arguments. $1 is always the
// query text and $2 the user id.
func buildQuery(q Query) (string, []any) {
	where := []string{
		"user_id = $2",
		"search_vector @@ plainto_tsquery('simple', $1)",
	}
	args := []any{q.Text, q.UserID}
	if c, ok := resultCollections[q.FilterType]; ok {
		args = append(args, string(c))
		where = append(where, fmt.Sprintf("collection = $%d", len(args)))
	} else {
		where = append(where, "collection IN ('products', 'customers', 'invoices')")
	}
	return strings.Join(where, " AND "), args
}

// Search ranks the user's documents with ts_rank and builds snippets with
// ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.UserID == "" {
		return nil, 0, nil
	}

	where, args := buildQuery(q)

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM documents WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT collection, id, %s AS title,
			ts_headline('simple', %s, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM documents
		WHERE %s
		ORDER BY ts_rank(search_vector, plainto_tsquery('simple', $1)) DESC, created_at DESC
		LIMIT %d OFFSET %d`,
		titleExpr, bodyExpr, where, q.limit(), max(q.Offset, 0))

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var collection string
		if err := rows.Scan(&collection, &r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type, _ = resultTypeOf(store.Collection(collection))
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, collection, data
		FROM documents
		WHERE collection IN ('products', 'customers', 'invoices')
	`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var userID, collection string
		var raw []byte
		if err := rows.Scan(&userID, &collection, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var doc store.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if r, ok := RecordFromDocument(userID, store.Collection(collection), doc); ok {
			records = append(records, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
