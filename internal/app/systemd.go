package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "jobsched/pkg/logx"
)

// sdNotify sends a state line to the service manager. It is a no-op when the
// process was not started by systemd.
func (a *App) sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// watchdog pings systemd at half the configured WatchdogSec until ctx ends.
func (a *App) watchdog(ctx context.Context) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog disabled", logx.Err(err))
		return nil
	}
	if every <= 0 {
		return nil
	}
	every /= 2
	a.log.Debug("systemd watchdog enabled", logx.Duration("every", every))

	t := a.clock.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			a.sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}

func statusLine(status string, jobs int, next time.Time) string {
	s := fmt.Sprintf("STATUS=%s, jobs=%d", status, jobs)
	if !next.IsZero() {
		s += ", next=" + next.Format(time.RFC3339)
	}
	return s
}
