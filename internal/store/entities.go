package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Client is the entity document store handed to plugins through the database
// capability. Entities are addressed by name; documents are JSON objects.
// Plugins normally receive this interface behind the data-access guard, never
// the raw implementation.
type Client interface {
	Get(ctx context.Context, entity, id string) (map[string]any, error)
	List(ctx context.Context, entity string, limit int) ([]map[string]any, error)
	Put(ctx context.Context, entity, id string, doc map[string]any) error
	Delete(ctx context.Context, entity, id string) error
}

// Entities returns the unrestricted entity client backed by this database.
func (d *DB) Entities() Client {
	return &entityClient{db: d.sql}
}

type entityClient struct {
	db *sql.DB
}

func (c *entityClient) Get(ctx context.Context, entity, id string) (map[string]any, error) {
	var data string
	err := c.db.QueryRowContext(ctx,
		`SELECT data FROM entities WHERE entity = ? AND id = ?`, entity, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s/%s: %w", entity, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", entity, id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", entity, id, err)
	}
	return doc, nil
}

func (c *entityClient) List(ctx context.Context, entity string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT data FROM entities WHERE entity = ? ORDER BY id LIMIT ?`, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entity, err)
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", entity, err)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", entity, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (c *entityClient) Put(ctx context.Context, entity, id string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", entity, id, err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO entities (entity, id, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		entity, id, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", entity, id, err)
	}
	return nil
}

func (c *entityClient) Delete(ctx context.Context, entity, id string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM entities WHERE entity = ? AND id = ?`, entity, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", entity, id, err)
	}
	return nil
}
