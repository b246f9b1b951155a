package ipc

import (
	"os/exec"
	"time"

	"github.com/micromdm/nanolib/log"
	"github.com/pl-aronis/moonstone/internal/agent/config"
)

// flushDelay gives a just-written log line a moment to reach disk
// before the system sleeps, shuts down, or locks, matching the
// teacher bin's brief sleep before calling out to pmset/shutdown.
const flushDelay = 100 * time.Millisecond

// TriggerTamperResponse runs the configured action once the watchdog
// has given up on the agent responding to heartbeats. Each action
// falls back to Lock (the least disruptive response) if the primary
// command fails to start.
func TriggerTamperResponse(response config.TamperResponse, logger log.Logger) {
	if logger == nil {
		logger = log.NopLogger
	}
	time.Sleep(flushDelay)

	switch response {
	case config.TamperSleep:
		logger.Info("msg", "tamper response: sleeping system")
		if err := exec.Command("pmset", "sleepnow").Start(); err != nil {
			logger.Info("msg", "tamper response: sleep failed, falling back to lock", "err", err.Error())
			lockScreen()
		}
	case config.TamperShutdown:
		logger.Info("msg", "tamper response: shutting down")
		if err := exec.Command("shutdown", "-h", "now").Start(); err != nil {
			logger.Info("msg", "tamper response: shutdown failed, falling back to lock", "err", err.Error())
			lockScreen()
		}
	case config.TamperLock:
		logger.Info("msg", "tamper response: locking screen")
		lockScreen()
	default:
		logger.Info("msg", "tamper response: unrecognized setting, falling back to lock", "setting", string(response))
		lockScreen()
	}
}

func lockScreen() {
	exec.Command("pmset", "displaysleepnow").Start()
}
