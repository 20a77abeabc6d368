package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeytom/pulsemeter/command"
	"github.com/aeytom/pulsemeter/report"
	"github.com/coreos/go-systemd/daemon"
	"github.com/rs/zerolog/log"
)

// session is the connectivity side the main loop supervises.
type session interface {
	IsSessionActive() bool
	Reestablish(ctx context.Context) error
}

// loop is the single cooperative main context: connectivity check, window
// reporting and command execution, once per tick.
type loop struct {
	tick      time.Duration
	session   session
	scheduler *report.Scheduler
	commands  *command.Queue
	processor *command.Processor
	notify    func(state string)

	// beat is the unix nano time of the last finished step.
	beat         atomic.Int64
	reconnecting atomic.Bool
}

// step runs one iteration at now.
func (l *loop) step(ctx context.Context, now time.Time) error {
	if l.session != nil && !l.session.IsSessionActive() {
		log.Warn().Msg("session lost, reestablishing")
		l.reconnecting.Store(true)
		err := l.session.Reestablish(ctx)
		l.reconnecting.Store(false)
		if err != nil {
			return err
		}
	}
	l.scheduler.Tick(ctx, now)
	l.commands.Drain(l.processor)
	l.beat.Store(time.Now().UnixNano())
	return nil
}

// alive reports whether the loop made progress within d or is waiting for
// the broker.
func (l *loop) alive(d time.Duration) bool {
	return l.reconnecting.Load() || time.Since(time.Unix(0, l.beat.Load())) < d
}

// watchdog pings the service manager every interval/2 while the loop is alive.
func (l *loop) watchdog(ctx context.Context, interval time.Duration, notify func(string)) {
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if l.alive(interval) {
				notify(daemon.SdNotifyWatchdog)
			} else {
				log.Warn().Dur("watchdog", interval).Msg("main loop stalled")
			}
		}
	}
}

func (l *loop) run(ctx context.Context) error {
	notify := l.notify
	if notify == nil {
		notify = func(string) {}
	}
	notify(daemon.SdNotifyReady)
	l.beat.Store(time.Now().UnixNano())

	wctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	if interval, _ := daemon.SdWatchdogEnabled(false); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.watchdog(wctx, interval, notify)
		}()
	}

	t := time.NewTicker(l.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			notify(daemon.SdNotifyStopping)
			return nil
		case now := <-t.C:
			if err := l.step(ctx, now); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
