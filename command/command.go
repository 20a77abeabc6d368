// Package command handles the single byte remote commands of the meter.
package command

import (
	"errors"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Commands understood by the processor.
const (
	Clear   byte = 'c'
	Restart byte = 'r'
)

// ErrQueueFull is returned when a command is dropped because the main loop
// did not keep up.
var ErrQueueFull = errors.New("command queue full")

// Clearer zeros the cumulative energy.
type Clearer interface {
	Clear()
}

// Restarter terminates the process and starts it again from zero state.
type Restarter interface {
	Restart()
}

// RestartFunc adapts a function to Restarter.
type RestartFunc func()

// Restart …
func (f RestartFunc) Restart() { f() }

// Processor executes commands. It must run in the main loop.
type Processor struct {
	acc       Clearer
	restarter Restarter
}

// NewProcessor …
func NewProcessor(acc Clearer, r Restarter) *Processor {
	return &Processor{acc: acc, restarter: r}
}

// Handle executes cmd. Unknown commands are ignored.
func (p *Processor) Handle(cmd byte) {
	switch cmd {
	case Clear:
		log.Info().Msg("clear energy counter")
		p.acc.Clear()
	case Restart:
		log.Warn().Msg("restart requested")
		p.restarter.Restart()
	default:
		log.Debug().Str("cmd", string(cmd)).Msg("unknown command ignored")
	}
}

// HandlePayload executes the first byte of a message payload.
func (p *Processor) HandlePayload(payload []byte) {
	if len(payload) == 0 {
		return
	}
	p.Handle(payload[0])
}

// Queue hands commands from transport goroutines to the main loop.
type Queue struct {
	ch    chan []byte
	drops uint32
}

// NewQueue …
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 16
	}
	return &Queue{ch: make(chan []byte, size)}
}

// Push enqueues payload without blocking.
func (q *Queue) Push(payload []byte) error {
	p := append([]byte(nil), payload...)
	select {
	case q.ch <- p:
		return nil
	default:
		atomic.AddUint32(&q.drops, 1)
		return ErrQueueFull
	}
}

// Drain executes every queued command and returns how many were handled.
func (q *Queue) Drain(p *Processor) int {
	n := 0
	for {
		select {
		case payload := <-q.ch:
			p.HandlePayload(payload)
			n++
		default:
			return n
		}
	}
}

// Drops returns the number of commands dropped by Push.
func (q *Queue) Drops() uint32 { return atomic.LoadUint32(&q.drops) }

// ExecRestarter replaces the running process with a fresh instance of the
// same binary after running the cleanup hooks.
type ExecRestarter struct {
	Cleanup []func()
	// exec is syscall.Exec unless replaced in tests.
	exec func(argv0 string, argv []string, envv []string) error
	exit func(code int)
}

// NewExecRestarter …
func NewExecRestarter(cleanup ...func()) *ExecRestarter {
	return &ExecRestarter{
		Cleanup: cleanup,
		exec:    syscall.Exec,
		exit:    os.Exit,
	}
}

// Restart does not return on success. If the exec fails the process exits
// non-zero so the service manager restarts it.
func (r *ExecRestarter) Restart() {
	for _, c := range r.Cleanup {
		c()
	}
	bin, err := os.Executable()
	if err == nil {
		err = r.exec(bin, os.Args, os.Environ())
	}
	log.Error().Err(err).Msg("re-exec failed, exiting")
	r.exit(1)
}
