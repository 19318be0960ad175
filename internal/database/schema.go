package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SchemaGuard filters write payloads down to the columns that actually exist
// in the live schema. The backing store is shared with other services and may
// legitimately be narrower than the in-memory model; unknown fields are
// dropped and logged rather than breaking the write. Dropping a field is an
// observable trade-off, not an error.
type SchemaGuard struct {
	db     *DB
	logger *zap.Logger

	mu     sync.RWMutex
	tables map[string]map[string]struct{}
}

// NewSchemaGuard creates a schema guard with an empty introspection cache
func NewSchemaGuard(db *DB, logger *zap.Logger) *SchemaGuard {
	return &SchemaGuard{
		db:     db,
		logger: logger,
		tables: make(map[string]map[string]struct{}),
	}
}

// ExistingColumns returns the set of real column names for table, introspected
// once from information_schema and cached for the process lifetime.
func (g *SchemaGuard) ExistingColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	g.mu.RLock()
	cols, ok := g.tables[table]
	g.mu.RUnlock()
	if ok {
		return cols, nil
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols = make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns or does not exist", table)
	}

	g.mu.Lock()
	g.tables[table] = cols
	g.mu.Unlock()

	return cols, nil
}

// Refresh drops the cached column set for table so the next write
// re-introspects. Called after migrations.
func (g *SchemaGuard) Refresh(table string) {
	g.mu.Lock()
	delete(g.tables, table)
	g.mu.Unlock()
}

// PickExistingColumns returns only the subset of record whose keys, tried
// verbatim and snake_case-converted, name real columns of table. Dropped
// fields are logged with the schema_mismatch tag.
func (g *SchemaGuard) PickExistingColumns(ctx context.Context, record map[string]any, table string) (map[string]any, error) {
	cols, err := g.ExistingColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	kept, dropped := filterColumns(record, cols)
	if len(dropped) > 0 {
		g.logger.Warn("schema_mismatch",
			zap.String("table", table),
			zap.Strings("dropped_fields", dropped),
		)
	}
	return kept, nil
}

// BuildSafeInsert builds a parameterized INSERT for table from record,
// filtered to existing columns. When the schema has id / created_at /
// updated_at columns and the record does not provide them, defaults are
// injected so every write carries them.
func (g *SchemaGuard) BuildSafeInsert(ctx context.Context, record map[string]any, table string) (string, []any, error) {
	cols, err := g.ExistingColumns(ctx, table)
	if err != nil {
		return "", nil, err
	}

	kept, dropped := filterColumns(record, cols)
	if len(dropped) > 0 {
		g.logger.Warn("schema_mismatch",
			zap.String("table", table),
			zap.Strings("dropped_fields", dropped),
		)
	}

	now := time.Now()
	if _, has := cols["id"]; has {
		if _, set := kept["id"]; !set {
			kept["id"] = uuid.New()
		}
	}
	if _, has := cols["created_at"]; has {
		if _, set := kept["created_at"]; !set {
			kept["created_at"] = now
		}
	}
	if _, has := cols["updated_at"]; has {
		if _, set := kept["updated_at"]; !set {
			kept["updated_at"] = now
		}
	}

	if len(kept) == 0 {
		return "", nil, fmt.Errorf("no columns of record match table %s", table)
	}

	query, args := buildInsert(table, kept)
	return query, args, nil
}

// BuildSafeUpdate builds a parameterized UPDATE for table from record,
// filtered to existing columns, keyed on idColumn. updated_at is refreshed
// when the schema carries it.
func (g *SchemaGuard) BuildSafeUpdate(ctx context.Context, record map[string]any, table, idColumn string, id any) (string, []any, error) {
	kept, err := g.PickExistingColumns(ctx, record, table)
	if err != nil {
		return "", nil, err
	}
	delete(kept, idColumn)

	cols, err := g.ExistingColumns(ctx, table)
	if err != nil {
		return "", nil, err
	}
	if _, has := cols["updated_at"]; has {
		kept["updated_at"] = time.Now()
	}

	if len(kept) == 0 {
		return "", nil, fmt.Errorf("no columns of record match table %s", table)
	}

	query, args := buildUpdate(table, idColumn, id, kept)
	return query, args, nil
}

// filterColumns splits record into the values that name real columns (keys
// tried as-is, then snake_case-converted) and the field names that do not.
// Kept keys are the actual column names.
func filterColumns(record map[string]any, cols map[string]struct{}) (map[string]any, []string) {
	kept := make(map[string]any, len(record))
	var dropped []string

	for key, value := range record {
		if _, ok := cols[key]; ok {
			kept[key] = value
			continue
		}
		if snake := toSnakeCase(key); snake != key {
			if _, ok := cols[snake]; ok {
				kept[snake] = value
				continue
			}
		}
		dropped = append(dropped, key)
	}
	sort.Strings(dropped)
	return kept, dropped
}

// buildInsert renders a deterministic parameterized INSERT. Columns are
// sorted so the generated SQL is stable for logging and tests.
func buildInsert(table string, record map[string]any) (string, []any) {
	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)

	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = record[name]
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
	)
	return query, args
}

func buildUpdate(table, idColumn string, id any, record map[string]any) (string, []any) {
	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)

	assignments := make([]string, len(names))
	args := make([]any, 0, len(names)+1)
	for i, name := range names {
		assignments[i] = fmt.Sprintf("%s = $%d", name, i+1)
		args = append(args, record[name])
	}
	args = append(args, id)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d",
		table,
		strings.Join(assignments, ", "),
		idColumn,
		len(names)+1,
	)
	return query, args
}

// toSnakeCase converts camelCase and PascalCase keys to snake_case column
// names. Runs of capitals ("avatarURL") collapse into one segment.
func toSnakeCase(s string) string {
	var builder strings.Builder
	builder.Grow(len(s) + 4)

	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || (nextLower && unicode.IsUpper(runes[i-1]))) {
				builder.WriteByte('_')
			}
			builder.WriteRune(unicode.ToLower(r))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
