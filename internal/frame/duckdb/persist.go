package duckdb

import (
	"context"
	"fmt"

	"github.com/duckmesh/duckframe/internal/frame"
)

// Persist materializes the relation's definition into the memory or disk
// catalog and re-points the view at it. Replication suffixes are ignored.
func (e *Engine) Persist(ctx context.Context, h *frame.Handle, level frame.StorageLevel) error {
	rel, err := e.lookup(h)
	if err != nil {
		return err
	}
	if level == frame.StorageNone {
		return e.Unpersist(ctx, h)
	}
	if rel.level == level {
		return nil
	}
	if rel.level != frame.StorageNone {
		return fmt.Errorf("%w: %s is persisted at %s, cannot change to %s", frame.ErrStorageLevelConflict, h.Name, rel.level, level)
	}

	catalog := memoryCatalog
	if level.UsesDisk() {
		catalog = diskCatalog
	}
	table := catalog + ".main." + quoteIdent(h.Name)

	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", table, rel.definition)); err != nil {
		return fmt.Errorf("materialize %s: %w", h.Name, err)
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", quoteIdent(h.Name), table)); err != nil {
		_, _ = e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table)
		return fmt.Errorf("repoint %s: %w", h.Name, err)
	}

	e.mu.Lock()
	rel.level = level
	rel.table = table
	e.mu.Unlock()
	persistedRelations.WithLabelValues(catalog).Inc()
	return nil
}

func (e *Engine) Unpersist(ctx context.Context, h *frame.Handle) error {
	rel, err := e.lookup(h)
	if err != nil {
		return err
	}
	if rel.level == frame.StorageNone {
		return nil
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", quoteIdent(h.Name), rel.definition)); err != nil {
		return fmt.Errorf("restore %s: %w", h.Name, err)
	}
	if _, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+rel.table); err != nil {
		return fmt.Errorf("drop materialized %s: %w", h.Name, err)
	}

	catalog := memoryCatalog
	if rel.level.UsesDisk() {
		catalog = diskCatalog
	}
	e.mu.Lock()
	rel.level = frame.StorageNone
	rel.table = ""
	e.mu.Unlock()
	persistedRelations.WithLabelValues(catalog).Dec()
	return nil
}

func (e *Engine) StorageLevel(_ context.Context, h *frame.Handle) (frame.StorageLevel, error) {
	rel, err := e.lookup(h)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return rel.level, nil
}
