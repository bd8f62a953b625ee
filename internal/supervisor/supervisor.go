// Package supervisor tracks every child process spawned for extractor
// sessions and bounds their lifetime: a registry maps session ids to
// PIDs, and a reaper prunes the dead and kills the orphaned.
package supervisor

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// softKillGrace is how long a terminated child gets to exit before the
// hard kill.
const softKillGrace = 3 * time.Second

// observerMarker identifies extractor children in the process table. The
// hook-less settings override is passed verbatim on the command line and
// appears in no other claude invocation on the machine.
const observerMarker = `"hooks":{}`

// Supervisor is the process-wide child registry. All map mutations are
// short critical sections under one mutex.
type Supervisor struct {
	mu        sync.Mutex
	observers map[int64]map[int32]struct{}
}

// New builds an empty registry.
func New() *Supervisor {
	return &Supervisor{observers: make(map[int64]map[int32]struct{})}
}

// RegisterObservers union-adds pids to the session's set.
func (s *Supervisor) RegisterObservers(sessionID int64, pids []int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.observers[sessionID]
	if !ok {
		set = make(map[int32]struct{})
		s.observers[sessionID] = set
	}
	for _, pid := range pids {
		set[pid] = struct{}{}
	}
}

// SessionPids returns the registered pids for a session.
func (s *Supervisor) SessionPids(sessionID int64) []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pidsOf(s.observers[sessionID])
}

// registeredSet flattens the registry for orphan diffing.
func (s *Supervisor) registeredSet() map[int32]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make(map[int32]struct{})
	for _, set := range s.observers {
		for pid := range set {
			all[pid] = struct{}{}
		}
	}
	return all
}

// KillSessionObservers soft-terminates the session's children, waits up
// to the grace period, hard-kills survivors, and drops the session from
// the registry. Already-dead pids are ignored.
func (s *Supervisor) KillSessionObservers(sessionID int64) {
	s.mu.Lock()
	pids := pidsOf(s.observers[sessionID])
	delete(s.observers, sessionID)
	s.mu.Unlock()

	killPids(pids)
}

// KillAll kills every registered child across all sessions in parallel.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	sets := make([][]int32, 0, len(s.observers))
	for _, set := range s.observers {
		sets = append(sets, pidsOf(set))
	}
	s.observers = make(map[int64]map[int32]struct{})
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, pids := range sets {
		wg.Add(1)
		go func(pids []int32) {
			defer wg.Done()
			killPids(pids)
		}(pids)
	}
	wg.Wait()
}

// PruneDeadPids drops registry entries whose process no longer exists and
// returns the count pruned. Emptied sessions are removed.
func (s *Supervisor) PruneDeadPids() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for sessionID, set := range s.observers {
		for pid := range set {
			exists, err := process.PidExists(pid)
			if err == nil && !exists {
				delete(set, pid)
				pruned++
			}
		}
		if len(set) == 0 {
			delete(s.observers, sessionID)
		}
	}
	return pruned
}

// SnapshotChildPids reads the worker's direct children from the OS
// process table.
func (s *Supervisor) SnapshotChildPids() ([]int32, error) {
	self := int32(os.Getpid())
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	var children []int32
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		if ppid == self {
			children = append(children, p.Pid)
		}
	}
	return children, nil
}

// FindUnregisteredObservers scans the process table for extractor
// children missing from the registry, typically leaked by a crashed
// worker.
func (s *Supervisor) FindUnregisteredObservers() ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	registered := s.registeredSet()

	var orphans []int32
	for _, p := range procs {
		if _, ok := registered[p.Pid]; ok {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, "claude") && strings.Contains(cmdline, observerMarker) {
			orphans = append(orphans, p.Pid)
		}
	}
	return orphans, nil
}

// killPids terminates, waits out the grace period, then kills survivors.
// Individual failures are logged and absorbed.
func killPids(pids []int32) {
	if len(pids) == 0 {
		return
	}

	procs := make(map[int32]*process.Process, len(pids))
	for _, pid := range pids {
		p, err := process.NewProcess(pid)
		if err != nil {
			continue // already dead
		}
		procs[pid] = p
		if err := p.Terminate(); err != nil {
			slog.Debug("terminate failed", "pid", pid, "error", err)
		}
	}

	deadline := time.Now().Add(softKillGrace)
	for time.Now().Before(deadline) && len(procs) > 0 {
		for pid := range procs {
			exists, err := process.PidExists(pid)
			if err == nil && !exists {
				delete(procs, pid)
			}
		}
		if len(procs) == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	for pid, p := range procs {
		if err := p.Kill(); err != nil {
			slog.Warn("hard kill failed", "pid", pid, "error", err)
		}
	}
}

func pidsOf(set map[int32]struct{}) []int32 {
	pids := make([]int32, 0, len(set))
	for pid := range set {
		pids = append(pids, pid)
	}
	return pids
}
