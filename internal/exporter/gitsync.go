package exporter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bpd1069/claude-mem/internal/app"
)

// gitAttributes routes database snapshots through large-file storage so
// the replication repo's history stays small.
const gitAttributes = `*.db filter=lfs diff=lfs merge=lfs -text
`

const readmeText = `# claude-mem replication workspace

Managed by claude-mem; do not edit by hand. Contains versioned snapshots
of the memory databases for cross-machine sharing.
`

// GitSync manages the replication workspace: a git repository holding
// versioned database snapshots.
type GitSync struct {
	Dir        string
	RemoteName string
	RemoteURL  string
	AutoPush   bool
	IdlePush   time.Duration
}

// NewGitSync builds the replicator from settings.
func NewGitSync(dir string, s app.Settings) *GitSync {
	return &GitSync{
		Dir:        dir,
		RemoteName: s.SyncRemoteName,
		RemoteURL:  s.SyncRemoteURL,
		AutoPush:   s.SyncAutoPush,
		IdlePush:   time.Duration(s.SyncIdlePushSec) * time.Second,
	}
}

// git runs one git command inside the workspace.
func (g *GitSync) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // G204: fixed binary, args built by callers
	cmd.Dir = g.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w (%s)", args[0], err, strings.TrimSpace(out.String()))
	}
	return strings.TrimSpace(out.String()), nil
}

// Initialized reports whether the workspace holds a git repo.
func (g *GitSync) Initialized() bool {
	_, err := os.Stat(filepath.Join(g.Dir, ".git"))
	return err == nil
}

// EnsureInit creates and initializes the workspace once: directory, repo,
// large-binary tracking rules, README, and the configured remote.
func (g *GitSync) EnsureInit(ctx context.Context) error {
	if err := os.MkdirAll(g.Dir, 0750); err != nil {
		return fmt.Errorf("failed to create replication dir: %w", err)
	}
	if !g.Initialized() {
		if _, err := g.git(ctx, "init"); err != nil {
			return err
		}
	}

	attrs := filepath.Join(g.Dir, ".gitattributes")
	if _, err := os.Stat(attrs); os.IsNotExist(err) {
		if err := os.WriteFile(attrs, []byte(gitAttributes), 0600); err != nil {
			return fmt.Errorf("failed to write attributes: %w", err)
		}
	}
	readme := filepath.Join(g.Dir, "README.md")
	if _, err := os.Stat(readme); os.IsNotExist(err) {
		if err := os.WriteFile(readme, []byte(readmeText), 0600); err != nil {
			return fmt.Errorf("failed to write README: %w", err)
		}
	}

	// Commits need an identity; machines without global git config get a
	// repo-local one.
	if _, err := g.git(ctx, "config", "user.name"); err != nil {
		if _, cerr := g.git(ctx, "config", "user.name", "claude-mem"); cerr != nil {
			return cerr
		}
	}
	if _, err := g.git(ctx, "config", "user.email"); err != nil {
		if _, cerr := g.git(ctx, "config", "user.email", "claude-mem@localhost"); cerr != nil {
			return cerr
		}
	}

	if g.RemoteURL != "" {
		if current, err := g.git(ctx, "remote", "get-url", g.RemoteName); err != nil {
			if _, aerr := g.git(ctx, "remote", "add", g.RemoteName, g.RemoteURL); aerr != nil {
				return aerr
			}
		} else if current != g.RemoteURL {
			if _, serr := g.git(ctx, "remote", "set-url", g.RemoteName, g.RemoteURL); serr != nil {
				return serr
			}
		}
	}
	return nil
}

// SyncStatus is the git-sync status report.
type SyncStatus struct {
	Dir         string   `json:"dir"`
	Initialized bool     `json:"initialized"`
	Remote      string   `json:"remote,omitempty"`
	Pending     []string `json:"pending,omitempty"`
	LastCommit  string   `json:"last_commit,omitempty"`
}

// Status reports workspace state without mutating anything.
func (g *GitSync) Status(ctx context.Context) (*SyncStatus, error) {
	st := &SyncStatus{Dir: g.Dir, Initialized: g.Initialized(), Remote: g.RemoteURL}
	if !st.Initialized {
		return st, nil
	}
	porcelain, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if porcelain != "" {
		st.Pending = strings.Split(porcelain, "\n")
	}
	if last, err := g.git(ctx, "log", "-1", "--format=%h %s"); err == nil {
		st.LastCommit = last
	}
	return st, nil
}

// snapshotMetadata describes what a push carried.
type snapshotMetadata struct {
	ExportedAt time.Time `json:"exported_at"`
	Source     string    `json:"source"`
	SizeBytes  int64     `json:"size_bytes"`
	Hostname   string    `json:"hostname"`
	Platform   string    `json:"platform"`
}

// Push snapshots the databases into the workspace, commits, and pushes
// when a remote is configured. full additionally includes the relational
// store. Auto-initializes an absent workspace.
func (g *GitSync) Push(ctx context.Context, db *sql.DB, full bool) error {
	if err := g.EnsureInit(ctx); err != nil {
		return err
	}

	vecPath, err := app.VectorDBPath()
	if err != nil {
		return err
	}
	snapshotted := false
	if _, err := os.Stat(vecPath); err == nil {
		vecDest := filepath.Join(g.Dir, "vectors.db")
		// Only re-snapshot when the live store moved; VACUUM INTO output
		// is not guaranteed byte-stable, and a gratuitous rewrite would
		// turn every idle push into a commit.
		if snapshotStale(vecPath, vecDest) {
			if err := snapshotSQLiteFile(ctx, vecPath, vecDest); err != nil {
				return err
			}
		}
		snapshotted = true
	}
	if full {
		if err := SnapshotDB(ctx, db, filepath.Join(g.Dir, "full-export.db")); err != nil {
			return err
		}
		snapshotted = true
	}
	if !snapshotted {
		return fmt.Errorf("nothing to push: no vector store exists and --full not requested")
	}

	// Stage the snapshots before stamping metadata: byte-identical copies
	// leave the tree clean and the run becomes a no-op instead of an empty
	// commit with a fresh timestamp.
	if _, err := g.git(ctx, "add", "-A"); err != nil {
		return err
	}
	porcelain, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return err
	}
	if porcelain == "" {
		// Nothing new locally; still carry any commit stranded by an
		// earlier failed push.
		return g.pushRemote(ctx)
	}

	if err := g.writeMetadata(vecPath); err != nil {
		return err
	}
	if _, err := g.git(ctx, "add", "metadata.json"); err != nil {
		return err
	}
	msg := "memory snapshot " + time.Now().UTC().Format(time.RFC3339)
	// Unattended pushes cannot answer a signing prompt.
	if _, err := g.git(ctx, "-c", "commit.gpgsign=false", "commit", "-m", msg); err != nil {
		return err
	}
	return g.pushRemote(ctx)
}

func (g *GitSync) pushRemote(ctx context.Context) error {
	if g.RemoteURL == "" {
		return nil
	}
	_, err := g.git(ctx, "push", "-u", g.RemoteName, "HEAD")
	return err
}

func (g *GitSync) writeMetadata(sourcePath string) error {
	meta := snapshotMetadata{
		ExportedAt: time.Now().UTC(),
		Source:     filepath.Base(sourcePath),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	if host, err := os.Hostname(); err == nil {
		meta.Hostname = host
	}
	if info, err := os.Stat(filepath.Join(g.Dir, "vectors.db")); err == nil {
		meta.SizeBytes = info.Size()
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(g.Dir, "metadata.json"), append(b, '\n'), 0600)
}

// Pull fetches the remote snapshot and fast-forwards onto it. A fresh
// workspace (no commits yet) adopts the remote state wholesale, which
// is how a second machine bootstraps; the seeded README/.gitattributes
// would otherwise block the first merge as untracked files.
func (g *GitSync) Pull(ctx context.Context) error {
	if !g.Initialized() {
		return fmt.Errorf("replication workspace %s is not initialized", g.Dir)
	}
	if g.RemoteURL == "" {
		return fmt.Errorf("no sync remote configured")
	}
	if _, err := g.git(ctx, "fetch", g.RemoteName, "HEAD"); err != nil {
		return err
	}
	if _, err := g.git(ctx, "rev-parse", "--verify", "HEAD"); err != nil {
		_, rerr := g.git(ctx, "reset", "--hard", "FETCH_HEAD")
		return rerr
	}
	_, err := g.git(ctx, "merge", "--ff-only", "FETCH_HEAD")
	return err
}

// HasPendingChanges reports whether a push would carry anything: dirty or
// unpushed git state, or a live vector store newer than its last snapshot.
// The staleness check matters because new memories land in the live store,
// not the workspace; without it an idle push would never trigger.
func (g *GitSync) HasPendingChanges(ctx context.Context) bool {
	if !g.Initialized() {
		// Push auto-initializes, so a never-replicated live store counts.
		return g.vectorSnapshotStale()
	}
	porcelain, err := g.git(ctx, "status", "--porcelain")
	if err == nil && porcelain != "" {
		return true
	}
	if ahead, err := g.git(ctx, "rev-list", "--count", "@{upstream}..HEAD"); err == nil && ahead != "0" {
		return true
	}
	return g.vectorSnapshotStale()
}

func (g *GitSync) vectorSnapshotStale() bool {
	vecPath, err := app.VectorDBPath()
	if err != nil {
		return false
	}
	return snapshotStale(vecPath, filepath.Join(g.Dir, "vectors.db"))
}

// snapshotStale reports whether the live database at src has writes the
// workspace copy at dst lacks. WAL content counts as live writes.
func snapshotStale(src, dst string) bool {
	live, err := os.Stat(src)
	if err != nil {
		return false // nothing to snapshot
	}
	snap, err := os.Stat(dst)
	if err != nil {
		return true // never snapshotted
	}
	liveMod := live.ModTime()
	if wal, err := os.Stat(src + "-wal"); err == nil && wal.ModTime().After(liveMod) {
		liveMod = wal.ModTime()
	}
	return liveMod.After(snap.ModTime())
}

// ShouldAutoPush decides whether an idle-triggered push should run now:
// auto-push enabled, pending changes exist, and the session has been idle
// at least the configured window.
func (g *GitSync) ShouldAutoPush(ctx context.Context, lastActivity time.Time) bool {
	if !g.AutoPush {
		return false
	}
	if !g.HasPendingChanges(ctx) {
		return false
	}
	return time.Since(lastActivity) >= g.IdlePush
}
