// Package exporter produces database snapshots: local file exports for
// ops and the git-managed replication workspace for cross-machine
// sharing.
package exporter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/store"
)

// Export formats.
const (
	FormatSQLite = "sqlite" // embedded vector store snapshot
	FormatFull   = "full"   // relational store + vector store
	FormatJSON   = "json"   // portable JSON dump
)

// Options for one export run.
type Options struct {
	Format  string
	Output  string // file for sqlite/json, directory for full
	Project string // json only: restrict to one project
	Vectors bool   // full only: include vectors.db
}

// Export writes a snapshot per opts and reports where it landed.
// Database snapshots go through VACUUM INTO so an export taken
// mid-write is still consistent.
func Export(ctx context.Context, db *sql.DB, opts Options) (string, error) {
	switch opts.Format {
	case FormatSQLite:
		return exportVector(ctx, opts)
	case FormatFull:
		return exportFull(ctx, db, opts)
	case FormatJSON:
		return exportJSON(db, opts)
	default:
		return "", fmt.Errorf("unknown export format %q (supported: sqlite, full, json)", opts.Format)
	}
}

// exportVector snapshots the embedded vector store. Without an explicit
// output it refreshes <workspace>/vectors.db, the copy git-sync
// replicates.
func exportVector(ctx context.Context, opts Options) (string, error) {
	vecPath, err := app.VectorDBPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(vecPath); err != nil {
		return "", fmt.Errorf("no embedded vector store at %s (only the sqlite-vec backend writes one)", vecPath)
	}

	dest := opts.Output
	if dest == "" {
		dir, err := app.ExportDir()
		if err != nil {
			return "", err
		}
		dest = filepath.Join(dir, "vectors.db")
	}
	return dest, snapshotSQLiteFile(ctx, vecPath, dest)
}

// SnapshotDB writes a consistent copy of the open database to destPath.
func SnapshotDB(ctx context.Context, db *sql.DB, destPath string) error {
	if destPath == "" {
		return fmt.Errorf("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	// VACUUM INTO refuses to overwrite; stage in a temp name and rename.
	tmp := destPath + ".tmp"
	_ = os.Remove(tmp) //nolint:errcheck // stale leftover
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return nil
}

// snapshotSQLiteFile snapshots a database this process does not hold open,
// such as the vector store owned by a running worker. Going through a
// connection instead of copying the file keeps WAL content in the snapshot
// and cannot tear mid-checkpoint.
func snapshotSQLiteFile(ctx context.Context, srcPath, destPath string) error {
	dsn := "file:" + url.PathEscape(srcPath) + "?_pragma=busy_timeout(5000)"
	src, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer src.Close() //nolint:errcheck // read-only connection
	return SnapshotDB(ctx, src, destPath)
}

func exportFull(ctx context.Context, db *sql.DB, opts Options) (string, error) {
	dir := opts.Output
	if dir == "" {
		return "", fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := SnapshotDB(ctx, db, filepath.Join(dir, "claude-mem.db")); err != nil {
		return "", err
	}
	if !opts.Vectors {
		return dir, nil
	}
	vecPath, err := app.VectorDBPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(vecPath); os.IsNotExist(err) {
		return dir, nil // no vector store yet
	}
	return dir, snapshotSQLiteFile(ctx, vecPath, filepath.Join(dir, "vectors.db"))
}

// jsonExport is the portable dump shape.
type jsonExport struct {
	ExportedAt   time.Time   `json:"exported_at"`
	Project      string      `json:"project,omitempty"`
	Observations interface{} `json:"observations"`
	Summaries    interface{} `json:"summaries"`
	UserPrompts  interface{} `json:"user_prompts"`
}

func exportJSON(db *sql.DB, opts Options) (string, error) {
	// A dump must carry everything, not the default page.
	observations, err := store.ListObservations(db, opts.Project, -1)
	if err != nil {
		return "", err
	}
	summaries, err := store.ListSummaries(db)
	if err != nil {
		return "", err
	}
	prompts, err := store.ListUserPrompts(db)
	if err != nil {
		return "", err
	}

	dump := jsonExport{
		ExportedAt:   time.Now().UTC(),
		Project:      opts.Project,
		Observations: observations,
		Summaries:    summaries,
		UserPrompts:  prompts,
	}
	b, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", err
	}

	if opts.Output == "" || opts.Output == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return "-", err
	}
	return opts.Output, os.WriteFile(opts.Output, append(b, '\n'), 0600)
}
