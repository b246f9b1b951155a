// Command moonstone-watchdog supervises moonstone-agent over the IPC
// heartbeat channel and triggers the configured tamper response if the
// agent stops answering. It runs as a separate process from the agent
// so killing the agent does not also disarm its supervisor.
//
// Ported from original_source/src/bin/moonstone-watchdog.rs: the
// startup delay, the shutdown-vs-tamper distinction via a
// signal-settable flag, and the heartbeat-loop-then-react shape are
// all kept as-is, translated onto signal.Notify and this repo's own
// ipc.Client.
package main

import (
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pl-aronis/moonstone/internal/agent/config"
	"github.com/pl-aronis/moonstone/internal/watchdog/ipc"
)

// startupGrace gives moonstone-agent time to bind its IPC socket
// before the watchdog starts dialing it.
const startupGrace = 2 * time.Second

func main() {
	logger := newStdLogger()
	logger.Info("msg", "moonstone watchdog starting")

	cfg, err := config.Load()
	tamperResponse := config.TamperSleep
	if err != nil {
		logger.Info("msg", "config load failed, using default tamper response", "err", err.Error())
	} else {
		tamperResponse = cfg.Hardcore.OnTamper
	}

	var shuttingDown atomic.Bool
	stop := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("msg", "received signal, shutting down", "signal", sig.String())
		shuttingDown.Store(true)
		close(stop)
	}()

	time.Sleep(startupGrace)

	client := ipc.NewClient()
	logger.Info("msg", "watchdog running, monitoring agent")
	loopErr := client.RunHeartbeatLoop(stop)

	if shuttingDown.Load() {
		logger.Info("msg", "watchdog shutting down normally")
		return
	}

	logger.Info("msg", "heartbeat loop exited, treating as tamper", "err", errString(loopErr))
	ipc.TriggerTamperResponse(tamperResponse, logger)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type stdLogger struct {
	std *stdlog.Logger
}

func newStdLogger() *stdLogger {
	return &stdLogger{std: stdlog.New(os.Stderr, "", stdlog.LstdFlags)}
}

func (l *stdLogger) Info(keyvals ...interface{}) {
	line := "level=info"
	for i := 0; i+1 < len(keyvals); i += 2 {
		line += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
	}
	l.std.Println(line)
}

func (l *stdLogger) Debug(keyvals ...interface{}) {}
