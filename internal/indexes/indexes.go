// Package indexes creates the secondary indexes the query engine relies on
// and reports which optional search features the store supports.
package indexes

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/stwalsh4118/zonal/internal/database"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/query"
)

// Prefix is shared by every index this package owns.
const Prefix = "ix_zonal_values_"

// Capabilities are the optional features available after Ensure.
type Capabilities struct {
	FullText bool `json:"fullText"`
	Trigram  bool `json:"trigram"`
}

// SearchMode picks the free-text strategy for these capabilities.
func (c Capabilities) SearchMode() query.SearchMode {
	if c.FullText {
		return query.SearchLexical
	}
	return query.SearchSubstring
}

type index struct {
	name string
	def  string
}

// btreeIndexes are shared by both backends.
func btreeIndexes() []index {
	return []index{
		{Prefix + "query_order", "(region, province, city_municipality, barangay, street_subdivision, id)"},
		{Prefix + "dataset_value", "(dataset_version, zonal_value)"},
		{Prefix + "scope_class_version", "(province, city_municipality, barangay, property_class, dataset_version)"},
		{Prefix + "street_normalized", "((" + query.NormalizedStreet("") + "))"},
	}
}

var trigramColumns = []string{
	"rdo_code", "region", "province", "city_municipality", "barangay",
	"street_subdivision", "property_class", "property_type",
}

// Ensure creates missing indexes. It is idempotent and safe to call on every
// startup. Optional features that are unavailable are logged and reported in
// the returned capabilities; only failures of required indexes are errors.
func Ensure(ctx context.Context, store database.Store, log *logger.Logger) (Capabilities, error) {
	if store.Dialect() != database.Postgres {
		return ensureSQLite(ctx, store, log)
	}
	return ensurePostgres(ctx, store, log)
}

func ensureSQLite(ctx context.Context, store database.Store, log *logger.Logger) (Capabilities, error) {
	for _, ix := range btreeIndexes() {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s %s", ix.name, database.ZonalValuesTable, ix.def)
		if err := store.Exec(ctx, stmt); err != nil {
			return Capabilities{}, fmt.Errorf("failed to create index %s: %w", ix.name, err)
		}
	}
	log.Info("Indexes ensured", map[string]interface{}{
		"dialect":     store.Dialect().Name(),
		"search_mode": query.SearchSubstring.String(),
	})
	return Capabilities{}, nil
}

func ensurePostgres(ctx context.Context, store database.Store, log *logger.Logger) (Capabilities, error) {
	if err := dropInvalid(ctx, store, log); err != nil {
		return Capabilities{}, err
	}

	required := append(btreeIndexes(), index{
		Prefix + "search_vector",
		fmt.Sprintf("USING GIN (to_tsvector('simple', %s))", query.SearchDocument(database.Postgres, "")),
	})
	for _, ix := range required {
		if err := createConcurrently(ctx, store, ix); err != nil {
			return Capabilities{}, err
		}
	}
	caps := Capabilities{FullText: true}

	if err := ensureTrigram(ctx, store); err != nil {
		log.Warn("pg_trgm unavailable, trigram indexes skipped", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		caps.Trigram = true
		for _, ix := range trigramIndexes() {
			if err := createConcurrently(ctx, store, ix); err != nil {
				log.Warn("Trigram index skipped", map[string]interface{}{
					"index": ix.name,
					"error": err.Error(),
				})
				caps.Trigram = false
			}
		}
	}

	log.Info("Indexes ensured", map[string]interface{}{
		"dialect":     store.Dialect().Name(),
		"search_mode": caps.SearchMode().String(),
		"trigram":     caps.Trigram,
	})
	return caps, nil
}

func trigramIndexes() []index {
	out := make([]index, 0, len(trigramColumns)+1)
	for _, col := range trigramColumns {
		out = append(out, index{Prefix + col + "_trgm", fmt.Sprintf("USING GIN (%s gin_trgm_ops)", col)})
	}
	out = append(out, index{
		Prefix + "search_blob_trgm",
		fmt.Sprintf("USING GIN (%s gin_trgm_ops)", query.SearchDocument(database.Postgres, "")),
	})
	return out
}

// createConcurrently builds one index without blocking writers. CONCURRENTLY
// cannot run inside a transaction, so each statement is sent on its own.
func createConcurrently(ctx context.Context, store database.Store, ix index) error {
	stmt := fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s %s", ix.name, database.ZonalValuesTable, ix.def)
	if err := store.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index %s: %w", ix.name, err)
	}
	return nil
}

// dropInvalid removes indexes left invalid by an interrupted concurrent
// build; IF NOT EXISTS would otherwise keep them forever.
func dropInvalid(ctx context.Context, store database.Store, log *logger.Logger) error {
	rows, err := store.Query(ctx, `
		SELECT c.relname
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indexrelid
		JOIN pg_class t ON t.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = current_schema() AND t.relname = $1
			AND NOT i.indisvalid AND c.relname LIKE $2`,
		database.ZonalValuesTable, Prefix+"%")
	if err != nil {
		return fmt.Errorf("failed to list invalid indexes: %w", err)
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan index name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list invalid indexes: %w", err)
	}

	for _, name := range names {
		if err := store.Exec(ctx, "DROP INDEX CONCURRENTLY IF EXISTS "+pq.QuoteIdentifier(name)); err != nil {
			return fmt.Errorf("failed to drop invalid index %s: %w", name, err)
		}
		log.Warn("Dropped invalid index", map[string]interface{}{"index": name})
	}
	return nil
}

func ensureTrigram(ctx context.Context, store database.Store) error {
	var installed bool
	err := store.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'pg_trgm')").Scan(&installed)
	if err != nil {
		return err
	}
	if installed {
		return nil
	}
	return store.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS pg_trgm")
}
