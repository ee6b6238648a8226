// Package loop runs the fixed-cadence simulation loop: drain pending
// commands, run one kernel.Step, release, sleep until the next 1/60s tick
// boundary.
package loop

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/fluidsim/internal/command"
	"github.com/san-kum/fluidsim/internal/kernel"
	"github.com/san-kum/fluidsim/internal/state"
)

// Request is one command submitted to the loop along with the channel its
// Result/error is delivered back on.
type Request struct {
	Cmd   command.Command
	Reply chan<- Reply
}

// Reply carries a dispatched command's outcome.
type Reply struct {
	Result command.Result
	Err    error
}

// Loop owns the tick cadence and the single inbound command channel. All
// mutation of the Fluid happens on the goroutine that calls Run.
type Loop struct {
	fluid  *state.Fluid
	cfg    kernel.Config
	inbox  chan Request
	log    *zap.Logger
	tickHz float64
	missed uint64
}

const inboxCapacity = 256

// New builds a Loop against fluid. tickHz defaults to 60 if <= 0.
func New(fluid *state.Fluid, cfg kernel.Config, log *zap.Logger, tickHz float64) *Loop {
	if tickHz <= 0 {
		tickHz = 60
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		fluid:  fluid,
		cfg:    cfg,
		inbox:  make(chan Request, inboxCapacity),
		log:    log,
		tickHz: tickHz,
	}
}

// Submit enqueues cmd for dispatch on the next tick boundary and blocks
// until it's been applied. Safe to call from any goroutine.
func (l *Loop) Submit(ctx context.Context, cmd command.Command) (command.Result, error) {
	reply := make(chan Reply, 1)
	select {
	case l.inbox <- Request{Cmd: cmd, Reply: reply}:
	case <-ctx.Done():
		return command.Result{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.Result, r.Err
	case <-ctx.Done():
		return command.Result{}, ctx.Err()
	}
}

// MissedTicks reports how many tick boundaries Run has had to skip rather
// than double-step, across the loop's lifetime.
func (l *Loop) MissedTicks() uint64 { return l.missed }

// Run drives the tick cadence until ctx is canceled. Each iteration: drain
// every command currently queued, run one kernel.Step, then sleep until the
// next boundary. If a step plus its drain overruns the tick period, the
// loop logs the overrun and resumes at the next boundary rather than
// attempting to catch up by double-stepping.
func (l *Loop) Run(ctx context.Context) {
	period := time.Duration(float64(time.Second) / l.tickHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	l.log.Info("simulation loop starting", zap.Float64("tick_hz", l.tickHz))

	for {
		select {
		case <-ctx.Done():
			l.log.Info("simulation loop stopping")
			return
		case start := <-ticker.C:
			l.step()
			if elapsed := time.Since(start); elapsed > period {
				l.missed++
				l.log.Warn("tick overran period",
					zap.Duration("elapsed", elapsed),
					zap.Duration("period", period),
					zap.Uint64("missed_total", l.missed),
				)
			}
		}
	}
}

// step drains the inbox and advances physics by exactly one tick, all
// under a single write-lock hold.
func (l *Loop) step() {
	l.fluid.Lock()
	defer l.fluid.Unlock()

drain:
	for {
		select {
		case req := <-l.inbox:
			res, err := command.Dispatch(l.fluid, req.Cmd)
			req.Reply <- Reply{Result: res, Err: err}
		default:
			break drain
		}
	}

	kernel.Step(l.fluid, l.cfg)
}
