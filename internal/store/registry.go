package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a registry row does not exist.
var ErrNotFound = errors.New("store: not found")

// PluginRecord is the durable registry row for a plugin.
// Enabled is tri-state: nil means the installer never decided, which the
// runtime treats as enabled.
type PluginRecord struct {
	PluginID           string
	Namespace          string
	Type               string // "spa" or "custom"
	Enabled            *bool
	UserDefaultEnabled bool
	CorePlugin         bool
	DevOnly            bool
	Version            string
}

// UpsertPlugin inserts or replaces a registry row.
func (d *DB) UpsertPlugin(ctx context.Context, rec PluginRecord) error {
	if rec.PluginID == "" {
		return fmt.Errorf("upsert plugin: plugin id is required")
	}
	if rec.Namespace == "" {
		rec.Namespace = rec.PluginID
	}
	if rec.Type == "" {
		rec.Type = "custom"
	}

	var enabled any
	if rec.Enabled != nil {
		enabled = boolToInt(*rec.Enabled)
	}

	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO plugin_registry
			(plugin_id, namespace, type, enabled, user_default_enabled, core_plugin, dev_only, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id) DO UPDATE SET
			namespace = excluded.namespace,
			type = excluded.type,
			enabled = excluded.enabled,
			user_default_enabled = excluded.user_default_enabled,
			core_plugin = excluded.core_plugin,
			dev_only = excluded.dev_only,
			version = excluded.version`,
		rec.PluginID, rec.Namespace, rec.Type, enabled,
		boolToInt(rec.UserDefaultEnabled), boolToInt(rec.CorePlugin),
		boolToInt(rec.DevOnly), rec.Version)
	if err != nil {
		return fmt.Errorf("upsert plugin %q: %w", rec.PluginID, err)
	}
	return nil
}

// GetPlugin returns the registry row for a plugin id, or ErrNotFound.
func (d *DB) GetPlugin(ctx context.Context, pluginID string) (*PluginRecord, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT plugin_id, namespace, type, enabled, user_default_enabled, core_plugin, dev_only, version
		FROM plugin_registry WHERE plugin_id = ?`, pluginID)

	rec, err := scanPlugin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plugin %q: %w", pluginID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plugin %q: %w", pluginID, err)
	}
	return rec, nil
}

// ListPlugins returns all registry rows ordered by plugin id.
func (d *DB) ListPlugins(ctx context.Context) ([]PluginRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT plugin_id, namespace, type, enabled, user_default_enabled, core_plugin, dev_only, version
		FROM plugin_registry ORDER BY plugin_id`)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()

	var records []PluginRecord
	for rows.Next() {
		rec, err := scanPlugin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plugin row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// SetPluginEnabled flips the enabled flag for a plugin, creating the row when
// it does not exist yet.
func (d *DB) SetPluginEnabled(ctx context.Context, pluginID string, enabled bool) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE plugin_registry SET enabled = ? WHERE plugin_id = ?`,
		boolToInt(enabled), pluginID)
	if err != nil {
		return fmt.Errorf("set plugin %q enabled: %w", pluginID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return d.UpsertPlugin(ctx, PluginRecord{
			PluginID: pluginID,
			Enabled:  &enabled,
		})
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPlugin(row scannable) (*PluginRecord, error) {
	var rec PluginRecord
	var enabled sql.NullInt64
	var userDefault, core, devOnly int
	if err := row.Scan(&rec.PluginID, &rec.Namespace, &rec.Type, &enabled,
		&userDefault, &core, &devOnly, &rec.Version); err != nil {
		return nil, err
	}
	if enabled.Valid {
		v := enabled.Int64 != 0
		rec.Enabled = &v
	}
	rec.UserDefaultEnabled = userDefault != 0
	rec.CorePlugin = core != 0
	rec.DevOnly = devOnly != 0
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
