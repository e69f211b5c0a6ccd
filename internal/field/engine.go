package field

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/command"
	"github.com/fieldgate/fieldgate/internal/telemetry"
)

// EngineTuning sets the cycle's tick and motion parameters. Zero values
// take the defaults below.
type EngineTuning struct {
	Tick         time.Duration // state machine pass interval
	MovePulses   int           // absolute position of the cycle move
	MoveSpeed    int           // cycle move speed, pulses/sec
	MotorTimeout time.Duration // max wait for in-position
	Enabled      bool
}

func (t EngineTuning) withDefaults() EngineTuning {
	if t.Tick <= 0 {
		t.Tick = 200 * time.Millisecond
	}
	if t.MovePulses == 0 {
		t.MovePulses = 5000
	}
	if t.MoveSpeed <= 0 {
		t.MoveSpeed = 8000
	}
	if t.MotorTimeout <= 0 {
		t.MotorTimeout = 10 * time.Second
	}
	return t
}

// Engine drives the AUTO cycle: wait for the counter to hit its target, run
// the motor a fixed distance, reset the counter, repeat. It owns the state
// register masters read back; all motion goes through the router so AUTO
// and MANUAL commands share one arbitration path.
type Engine struct {
	dev    *Devices
	img    *Image
	router *Router
	bus    *telemetry.Bus
	stop   *estop
	log    *zap.SugaredLogger

	tuning EngineTuning

	enabled atomic.Bool
	state   atomic.Int32

	// step-local bookkeeping, touched only by Run's goroutine
	lastCmd        time.Time
	lastTarget     int
	modeLastLogged telemetry.Mode
	modeLogged     bool
}

// NewEngine wires the cycle engine. Tuning.Enabled=false parks it in the
// Disabled state until SetEnabled flips it.
func NewEngine(dev *Devices, img *Image, router *Router, bus *telemetry.Bus, stop *estop, tuning EngineTuning, log *zap.SugaredLogger) *Engine {
	e := &Engine{
		dev:    dev,
		img:    img,
		router: router,
		bus:    bus,
		stop:   stop,
		log:    log,
		tuning: tuning.withDefaults(),
	}
	e.enabled.Store(tuning.Enabled)
	e.state.Store(int32(telemetry.StateIdle))
	return e
}

// SetEnabled turns the AUTO cycle on or off at runtime. Disabling does not
// stop a motor already moving, it just stops issuing new cycle commands.
func (e *Engine) SetEnabled(on bool) {
	if e.enabled.Swap(on) != on {
		e.log.Infof("AUTO cycle enabled = %v", on)
	}
}

// State reports the current cycle state. Safe from any goroutine.
func (e *Engine) State() telemetry.AutoState {
	return telemetry.AutoState(e.state.Load())
}

func (e *Engine) setState(s telemetry.AutoState) {
	if telemetry.AutoState(e.state.Swap(int32(s))) != s {
		e.log.Debugf("AUTO state -> %v", s)
	}
}

// Run executes the cycle until ctx is cancelled. Steps fire on a fixed tick
// and on every fresh device snapshot, so reactions to in-position and
// counter-done edges do not wait out the tick.
func (e *Engine) Run(ctx context.Context) {
	snaps, cancel := e.bus.Subscribe()
	defer cancel()
	ticker := time.NewTicker(e.tuning.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.step(time.Now())
		case _, ok := <-snaps:
			if !ok {
				return
			}
			e.step(time.Now())
		}
	}
}

// step is one pass of the cycle state machine.
func (e *Engine) step(now time.Time) {
	// The target register forwards to the counter on every change, in any
	// mode; a master can retune the batch size mid-cycle.
	target := e.img.Target()
	if target != e.lastTarget {
		e.lastTarget = target
		e.log.Infof("Target register = %v, forwarding to counter", target)
		if err := e.dev.CounterSetTarget(target); err != nil {
			e.log.Warnf("Failed to preset counter target %v: %v", target, err)
		}
	}

	mode := e.img.Mode()
	if !e.modeLogged || mode != e.modeLastLogged {
		e.modeLastLogged = mode
		e.modeLogged = true
		e.log.Infof("Mode register = %v (%v)", int(mode), mode)
	}

	// An emergency stop pins the state to Alarm until a mode write clears
	// the latch.
	if e.stop.active() {
		e.setState(telemetry.StateAlarm)
		return
	}

	if mode == telemetry.ModeManual {
		e.setState(telemetry.StateManual)
		return
	}

	if !e.enabled.Load() {
		e.setState(telemetry.StateDisabled)
		return
	}

	snap, ok := e.bus.Last()
	if !ok {
		return
	}

	state := e.State()

	if snap.Alarm {
		if state != telemetry.StateAlarm {
			e.log.Warnf("Cycle stopped: driver reports alarm")
		}
		e.setState(telemetry.StateAlarm)
		return
	}

	// No usable target, either unset or the counter is not answering. A
	// move already in flight is still tracked to completion.
	noTarget := !snap.CounterOnline || snap.CounterTarget <= 0

	switch state {
	case telemetry.StateMotorRunning:
		if snap.InPosition {
			if err := e.dev.CounterReset(); err != nil {
				e.log.Warnf("Counter reset failed, retrying next pass: %v", err)
				return
			}
			e.lastCmd = now
			e.setState(telemetry.StateWaitingReset)
			e.log.Infof("Motor in position, counter reset")
		} else if now.Sub(e.lastCmd) > e.tuning.MotorTimeout {
			e.setState(telemetry.StateTimeoutMotor)
			e.log.Warnf("Motor did not reach position within %v", e.tuning.MotorTimeout)
		}

	case telemetry.StateWaitingReset:
		// The done flag may stay up for a poll or two after the reset
		// lands; a new move must not launch off it.
		if noTarget {
			e.setState(telemetry.StateWaitingTarget)
		} else if snap.CounterValue == 0 && !snap.CounterDone {
			e.setState(telemetry.StateIdle)
			e.log.Infof("Counter back at zero, new cycle")
		}

	case telemetry.StateWaitingCount, telemetry.StateTimeoutMotor:
		switch {
		case noTarget:
			e.setState(telemetry.StateWaitingTarget)
		case snap.CounterDone:
			e.launch(now, snap)
		case state == telemetry.StateTimeoutMotor:
			// The counter was cleared elsewhere, resume watching it.
			e.setState(telemetry.StateWaitingCount)
		}

	case telemetry.StateIdle, telemetry.StateWaitingTarget:
		if noTarget {
			e.setState(telemetry.StateWaitingTarget)
		} else {
			e.setState(telemetry.StateWaitingCount)
		}

	default:
		// One recovery pass out of Manual, Disabled or a cleared Alarm.
		e.setState(telemetry.StateIdle)
	}
}

// launch submits the cycle move and starts the in-position clock.
func (e *Engine) launch(now time.Time, snap telemetry.Snapshot) {
	env := command.Envelope{
		Code:     command.MoveAbs,
		Position: e.tuning.MovePulses,
		Speed:    e.tuning.MoveSpeed,
		Source:   command.SourceLocal,
		Priority: command.PriorityLocal,
		At:       now,
	}
	if err := e.router.Submit(env); err != nil {
		e.log.Warnf("Cycle move rejected: %v", err)
		return
	}
	e.lastCmd = now
	e.setState(telemetry.StateMotorRunning)
	e.log.Infof("Count %v reached target %v, moving to %v", snap.CounterValue, snap.CounterTarget, e.tuning.MovePulses)
}
