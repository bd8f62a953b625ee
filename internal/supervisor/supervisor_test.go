package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Pids far above any real process. PruneDeadPids treats them as dead.
const (
	ghostPidA int32 = 1<<31 - 7
	ghostPidB int32 = 1<<31 - 8
)

func TestRegisterObserversUnion(t *testing.T) {
	sup := New()

	sup.RegisterObservers(1, []int32{ghostPidA})
	sup.RegisterObservers(1, []int32{ghostPidA, ghostPidB})

	pids := sup.SessionPids(1)
	assert.Len(t, pids, 2)
	assert.ElementsMatch(t, []int32{ghostPidA, ghostPidB}, pids)

	assert.Empty(t, sup.SessionPids(2))
}

func TestPruneDeadPids(t *testing.T) {
	sup := New()
	sup.RegisterObservers(1, []int32{ghostPidA})
	sup.RegisterObservers(2, []int32{ghostPidB})

	pruned := sup.PruneDeadPids()
	assert.Equal(t, 2, pruned)
	assert.Empty(t, sup.SessionPids(1))
	assert.Empty(t, sup.SessionPids(2))

	// A second prune finds nothing.
	assert.Zero(t, sup.PruneDeadPids())
}

func TestKillSessionObserversDropsRegistration(t *testing.T) {
	sup := New()
	sup.RegisterObservers(1, []int32{ghostPidA})
	sup.RegisterObservers(2, []int32{ghostPidB})

	// Already-dead pids are absorbed, not errors.
	sup.KillSessionObservers(1)
	assert.Empty(t, sup.SessionPids(1))
	assert.Len(t, sup.SessionPids(2), 1)

	sup.KillAll()
	assert.Empty(t, sup.SessionPids(2))
}

func TestReaperStartStop(t *testing.T) {
	r := NewReaper(New(), 10*time.Millisecond)

	// Stop before Start is safe.
	r.Stop()

	r.Start()
	r.Start() // no-op while running
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop() // safe to repeat

	// Restart after a stop works.
	r.Start()
	r.Stop()
}

func TestReaperDefaultInterval(t *testing.T) {
	r := NewReaper(New(), 0)
	assert.Equal(t, DefaultReapInterval, r.interval)
}
