package vector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/bpd1069/claude-mem/internal/models"
	"github.com/bpd1069/claude-mem/internal/store"
)

// backfillMissing walks the relational store, diffs each row's expected
// document ids against the existing set, and re-syncs rows with any id
// missing. Re-syncing is an upsert, so overshooting (a partially indexed
// row) costs a rewrite, never a duplicate. Errors on individual rows are
// logged and skipped so one bad row cannot wedge the whole backfill.
func backfillMissing(ctx context.Context, db *sql.DB, b Backend, existing map[string]struct{}) error {
	missingAny := func(ids []string) bool {
		for _, id := range ids {
			if _, ok := existing[id]; !ok {
				return true
			}
		}
		return false
	}

	observations, err := store.ListObservations(db, "", -1)
	if err != nil {
		return fmt.Errorf("failed to list observations for backfill: %w", err)
	}
	var synced int
	for _, obs := range observations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !missingAny(ExpectedObservationIDs(obs)) {
			continue
		}
		if err := b.SyncObservation(ctx, obs); err != nil {
			slog.Warn("backfill observation failed", "id", obs.ID, "error", err)
			continue
		}
		synced++
	}

	summaries, err := store.ListSummaries(db)
	if err != nil {
		return fmt.Errorf("failed to list summaries for backfill: %w", err)
	}
	for _, s := range summaries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !missingAny(docIDs(GranulateSummary(s))) {
			continue
		}
		if err := b.SyncSummary(ctx, s); err != nil {
			slog.Warn("backfill summary failed", "id", s.ID, "error", err)
			continue
		}
		synced++
	}

	prompts, err := store.ListUserPrompts(db)
	if err != nil {
		return fmt.Errorf("failed to list user prompts for backfill: %w", err)
	}
	for _, p := range prompts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !missingAny(docIDs(GranulateUserPrompt(p))) {
			continue
		}
		if err := b.SyncUserPrompt(ctx, p); err != nil {
			slog.Warn("backfill prompt failed", "id", p.ID, "error", err)
			continue
		}
		synced++
	}

	if synced > 0 {
		slog.Info("vector backfill complete", "backend", b.Name(), "rows_synced", synced)
	}
	return nil
}

func docIDs(docs []models.VectorDocument) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}
