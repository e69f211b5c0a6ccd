package field

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/command"
	"github.com/fieldgate/fieldgate/internal/telemetry"
)

// Rejection reasons surfaced by Submit.
var (
	errQueueFull = errors.New("command queue full")
	errLatched   = errors.New("emergency stop latched, waiting for mode write")
)

// estop is the emergency latch shared between the router and the engine.
// Tripped by an EMERGENCY command; cleared by the next mode register write.
type estop struct {
	tripped atomic.Bool
}

func (e *estop) trip() bool { return !e.tripped.Swap(true) }

func (e *estop) clear() bool { return e.tripped.Swap(false) }

func (e *estop) active() bool { return e.tripped.Load() }

// Router is the single entry point for motion commands. Every producer, the
// AUTO engine, MANUAL packets written over Modbus TCP, and JSON clients,
// submits envelopes here; the router arbitrates, translates to device
// operations and keeps the mirrors the snapshot reports.
type Router struct {
	dev    *Devices
	img    *Image
	stop   *estop
	log    *zap.SugaredLogger
	limits command.Limits
	window time.Duration
	queue  chan command.Envelope

	mu          sync.Mutex
	stepEnabled bool
	jogState    int
	lastSpeed   int
}

// NewRouter builds a router over the given devices and register image. The
// estop latch is shared with the engine so an emergency pins its state.
func NewRouter(dev *Devices, img *Image, stop *estop, limits command.Limits, log *zap.SugaredLogger) *Router {
	return &Router{
		dev:    dev,
		img:    img,
		stop:   stop,
		log:    log,
		limits: limits,
		window: 50 * time.Millisecond,
		queue:  make(chan command.Envelope, 16),
	}
}

// Submit validates and enqueues an envelope. EMERGENCY bypasses the queue:
// it trips the latch and stops the motor on the caller's goroutine, ahead
// of anything still queued. Motion commands are rejected while the latch is
// active.
func (r *Router) Submit(env command.Envelope) error {
	if env.At.IsZero() {
		env.At = time.Now()
	}
	if err := env.Validate(r.limits); err != nil {
		r.log.Warnf("Rejected %v: %v", env, err)
		return err
	}

	if env.Code == command.Emergency {
		if r.stop.trip() {
			r.log.Warnf("EMERGENCY stop from %v, motion latched off until next mode write", env.Source)
		}
		r.execute(env)
		return nil
	}

	if r.stop.active() && env.Code.Motion() {
		r.log.Warnf("Rejected %v: %v", env, errLatched)
		return errLatched
	}

	select {
	case r.queue <- env:
		return nil
	default:
		r.log.Warnf("Rejected %v: %v", env, errQueueFull)
		return errQueueFull
	}
}

// Run dispatches queued commands until ctx is cancelled. Envelopes arriving
// within one arbitration window are ranked: the highest priority survives,
// equal priorities run in arrival order, lower ones are dropped.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case first := <-r.queue:
			batch := r.collect(ctx, first)
			r.dispatch(batch)
		}
	}
}

// collect gathers everything submitted within the arbitration window.
func (r *Router) collect(ctx context.Context, first command.Envelope) []command.Envelope {
	batch := []command.Envelope{first}
	timer := time.NewTimer(r.window)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return batch
		case next := <-r.queue:
			batch = append(batch, next)
		case <-timer.C:
			return batch
		}
	}
}

func (r *Router) dispatch(batch []command.Envelope) {
	best := batch[0].Priority
	for _, env := range batch[1:] {
		if env.Priority > best {
			best = env.Priority
		}
	}
	for _, env := range batch {
		if env.Priority < best {
			r.log.Infof("Dropping %v, outranked in arbitration window", env)
			continue
		}
		// The latch may have tripped while this envelope sat queued.
		if r.stop.active() && env.Code.Motion() {
			r.log.Warnf("Dropping %v: %v", env, errLatched)
			continue
		}
		r.execute(env)
	}
}

// execute translates one envelope into a device operation. Failed
// operations are logged and dropped, the producer re-issues if it cares.
func (r *Router) execute(env command.Envelope) {
	var err error
	switch env.Code {
	case command.StepOn:
		if err = r.dev.MotorStep(true); err == nil {
			r.setStep(true)
		}
	case command.StepOff:
		if err = r.dev.MotorStep(false); err == nil {
			r.setStep(false)
		}
	case command.MoveAbs:
		if err = r.dev.MotorMoveAbs(env.Position, env.Speed); err == nil {
			r.setMotion(env.Speed, telemetry.JogOff)
		}
	case command.JogCW:
		if err = r.dev.MotorJog(true, env.Speed); err == nil {
			r.setMotion(env.Speed, telemetry.JogCW)
		}
	case command.JogCCW:
		if err = r.dev.MotorJog(false, env.Speed); err == nil {
			r.setMotion(env.Speed, telemetry.JogCCW)
		}
	case command.Stop, command.Emergency:
		if err = r.dev.MotorStop(); err == nil {
			r.setMotion(0, telemetry.JogOff)
		}
	case command.ResetAlarm:
		err = r.dev.MotorResetAlarm()
	default:
		r.log.Warnf("No translation for %v", env)
		return
	}
	if err != nil {
		r.log.Warnf("%v failed: %v", env, err)
		return
	}
	r.log.Infof("Executed %v", env)
}

func (r *Router) setStep(on bool) {
	r.mu.Lock()
	r.stepEnabled = on
	r.mu.Unlock()
}

func (r *Router) setMotion(speed, jog int) {
	r.mu.Lock()
	r.lastSpeed = speed
	r.jogState = jog
	r.mu.Unlock()
}

// Mirrors reports the step output, jog state and last commanded speed for
// snapshot assembly.
func (r *Router) Mirrors() (stepEnabled bool, jogState, speed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepEnabled, r.jogState, r.lastSpeed
}

// SetMode writes the mode register on a producer's behalf.
func (r *Router) SetMode(mode int, src command.Source) error {
	if err := r.img.SetMode(telemetry.Mode(mode)); err != nil {
		r.log.Warnf("Rejected mode %v from %v: %v", mode, src, err)
		return err
	}
	r.log.Infof("Mode set to %v by %v", telemetry.Mode(mode), src)
	return nil
}

// SetTarget writes the counter target register on a producer's behalf. The
// engine notices the change and forwards it to the counter device.
func (r *Router) SetTarget(target int, src command.Source) error {
	if err := r.limits.CheckTarget(target); err != nil {
		r.log.Warnf("Rejected target %v from %v: %v", target, src, err)
		return err
	}
	if err := r.img.SetTarget(target); err != nil {
		return err
	}
	r.log.Infof("Counter target set to %v by %v", target, src)
	return nil
}

// Watch consumes register image events: MANUAL command packets and mode
// writes. Runs until ctx is cancelled.
func (r *Router) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case mode := <-r.img.ModeEvents():
			if r.stop.clear() {
				r.log.Infof("Emergency latch cleared by mode write (%v)", mode)
			}
		case regs := <-r.img.PacketEvents():
			r.consumePacket(regs)
		}
	}
}

// consumePacket decodes a 6-register MANUAL packet, submits it when mode is
// MANUAL, and always zeroes the command slot so the master can write the
// next packet.
func (r *Router) consumePacket(regs []int) {
	defer r.img.ClearCommand()

	env, ok, err := command.DecodePacket(regs, time.Now())
	if err != nil {
		r.log.Warnf("Bad command packet %v: %v", regs, err)
		return
	}
	if !ok {
		return
	}
	if r.img.Mode() != telemetry.ModeManual {
		r.log.Warnf("Ignoring %v: packet commands accepted only in MANUAL mode", env)
		return
	}
	if err := r.Submit(env); err == nil {
		r.log.Debugf("Packet accepted: %v", env)
	}
}
