package supervisor

import (
	"os/exec"

	"github.com/bpd1069/claude-mem/internal/llm"
)

// SpawnFor returns a spawn hook that registers every started child with
// the session's registry entry before the provider proceeds. Registration
// happens before the call returns, so a crash between spawn and first
// reply still leaves the pid where the reaper can find it.
func SpawnFor(sup *Supervisor, sessionID int64) llm.SpawnFunc {
	return func(cmd *exec.Cmd) error {
		if err := cmd.Start(); err != nil {
			return err
		}
		if cmd.Process != nil {
			sup.RegisterObservers(sessionID, []int32{int32(cmd.Process.Pid)})
		}
		return nil
	}
}
