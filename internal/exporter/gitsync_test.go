package exporter

import (
	"context"
	"database/sql"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpd1069/claude-mem/internal/app"
	"github.com/bpd1069/claude-mem/internal/store"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH")
	}
}

// setupLiveStore points the state dir at a temp dir and seeds a real
// SQLite file where VectorDBPath resolves, standing in for the worker's
// vector store.
func setupLiveStore(t *testing.T) string {
	t.Helper()
	state := t.TempDir()
	t.Setenv(app.EnvPluginRoot, state)

	path := filepath.Join(state, "vectors.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE notes (body TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO notes VALUES ('hello')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

func TestEnsureInitIdempotent(t *testing.T) {
	requireGit(t)
	g := &GitSync{Dir: filepath.Join(t.TempDir(), "export"), RemoteName: "origin"}
	ctx := context.Background()

	require.NoError(t, g.EnsureInit(ctx))
	require.NoError(t, g.EnsureInit(ctx))
	assert.True(t, g.Initialized())

	attrs, err := os.ReadFile(filepath.Join(g.Dir, ".gitattributes"))
	require.NoError(t, err)
	assert.Contains(t, string(attrs), "filter=lfs")
	assert.FileExists(t, filepath.Join(g.Dir, "README.md"))
}

func TestPushCommitsOnceForSameData(t *testing.T) {
	requireGit(t)
	setupLiveStore(t)
	g := &GitSync{Dir: filepath.Join(t.TempDir(), "export"), RemoteName: "origin"}
	ctx := context.Background()

	require.NoError(t, g.Push(ctx, nil, false))
	assert.FileExists(t, filepath.Join(g.Dir, "vectors.db"))
	assert.FileExists(t, filepath.Join(g.Dir, "metadata.json"))

	count, err := g.git(ctx, "rev-list", "--count", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "1", count)

	// Unchanged data produces no second commit.
	require.NoError(t, g.Push(ctx, nil, false))
	count, err = g.git(ctx, "rev-list", "--count", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestPushErrorsWithNothingToSnapshot(t *testing.T) {
	requireGit(t)
	t.Setenv(app.EnvPluginRoot, t.TempDir()) // no live vector store

	g := &GitSync{Dir: filepath.Join(t.TempDir(), "export"), RemoteName: "origin"}
	err := g.Push(context.Background(), nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to push")
}

func TestPushFullIncludesRelationalStore(t *testing.T) {
	requireGit(t)
	setupLiveStore(t)

	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "claude-mem.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	g := &GitSync{Dir: filepath.Join(t.TempDir(), "export"), RemoteName: "origin"}
	require.NoError(t, g.Push(context.Background(), db, true))
	assert.FileExists(t, filepath.Join(g.Dir, "full-export.db"))
}

func TestPushPullWithFileRemote(t *testing.T) {
	requireGit(t)
	setupLiveStore(t)
	ctx := context.Background()

	remote := filepath.Join(t.TempDir(), "remote.git")
	out, err := exec.CommandContext(ctx, "git", "init", "--bare", remote).CombinedOutput()
	require.NoError(t, err, string(out))

	g := &GitSync{Dir: filepath.Join(t.TempDir(), "export"), RemoteName: "origin", RemoteURL: remote}
	require.NoError(t, g.Push(ctx, nil, false))

	// A second machine's workspace pulls the snapshot down.
	g2 := &GitSync{Dir: filepath.Join(t.TempDir(), "export"), RemoteName: "origin", RemoteURL: remote}
	require.NoError(t, g2.EnsureInit(ctx))
	require.NoError(t, g2.Pull(ctx))
	assert.FileExists(t, filepath.Join(g2.Dir, "vectors.db"))
}

func TestHasPendingChangesTracksLiveStore(t *testing.T) {
	requireGit(t)
	livePath := setupLiveStore(t)
	g := &GitSync{Dir: filepath.Join(t.TempDir(), "export"), RemoteName: "origin"}
	ctx := context.Background()

	// A live store that was never replicated counts as pending even
	// before the workspace exists.
	assert.True(t, g.HasPendingChanges(ctx))

	require.NoError(t, g.Push(ctx, nil, false))
	assert.False(t, g.HasPendingChanges(ctx))

	// New writes age the snapshot. Chtimes sidesteps mtime granularity.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(livePath, future, future))
	assert.True(t, g.HasPendingChanges(ctx))
}

func TestShouldAutoPush(t *testing.T) {
	setupLiveStore(t)
	g := &GitSync{
		Dir:      filepath.Join(t.TempDir(), "export"),
		AutoPush: true,
		IdlePush: time.Minute,
	}
	ctx := context.Background()

	idle := time.Now().Add(-2 * time.Minute)
	assert.True(t, g.ShouldAutoPush(ctx, idle))
	assert.False(t, g.ShouldAutoPush(ctx, time.Now()), "recent activity defers the push")

	g.AutoPush = false
	assert.False(t, g.ShouldAutoPush(ctx, idle))
}

func TestStatusReflectsWorkspace(t *testing.T) {
	requireGit(t)
	setupLiveStore(t)
	g := &GitSync{Dir: filepath.Join(t.TempDir(), "export"), RemoteName: "origin"}
	ctx := context.Background()

	st, err := g.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Initialized)

	require.NoError(t, g.Push(ctx, nil, false))
	st, err = g.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Initialized)
	assert.Empty(t, st.Pending)
	assert.Contains(t, st.LastCommit, "memory snapshot")
}

func TestPullRequiresInitAndRemote(t *testing.T) {
	requireGit(t)
	g := &GitSync{Dir: filepath.Join(t.TempDir(), "export"), RemoteName: "origin"}
	ctx := context.Background()

	require.Error(t, g.Pull(ctx))

	require.NoError(t, g.EnsureInit(ctx))
	err := g.Pull(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sync remote")
}
