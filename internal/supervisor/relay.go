// Package supervisor implements the relay tier: a Modbus TCP master that
// fronts a remote field controller, republishing its input registers as
// snapshots and translating operator commands into register writes.
package supervisor

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/command"
	"github.com/fieldgate/fieldgate/internal/regmap"
	"github.com/fieldgate/fieldgate/internal/telemetry"
	"github.com/fieldgate/fieldgate/modbus"
)

var errNotConnected = errors.New("field controller not connected")

// Config points the relay at a field controller.
type Config struct {
	Host      string
	Port      int
	Unit      int           // MBAP unit id of the controller
	PollEvery time.Duration // input register poll interval
	Timeout   time.Duration // per transaction
	Limits    command.Limits
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 502
	}
	if c.Unit == 0 {
		c.Unit = 1
	}
	if c.PollEvery <= 0 {
		c.PollEvery = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	return c
}

// Relay polls a field controller and accepts commands on its behalf. It
// satisfies the JSON server's CommandSink, so a supervisor process is the
// same JSON surface as a field controller, just one hop removed.
type Relay struct {
	cfg Config
	bus *telemetry.Bus
	log *zap.SugaredLogger

	mu sync.Mutex
	mb modbus.Modbus
	cl modbus.Client
}

// NewRelay builds a relay; the link is dialed by Run.
func NewRelay(cfg Config, bus *telemetry.Bus, log *zap.SugaredLogger) *Relay {
	return &Relay{cfg: cfg.withDefaults(), bus: bus, log: log}
}

// Bus exposes the snapshot stream the relay publishes into.
func (r *Relay) Bus() *telemetry.Bus { return r.bus }

// Run polls the controller until ctx is cancelled. Lost links are retried
// every second, backing off to a 10 second cap; while the link is down the
// relay publishes snapshots with Connected=false so operators see the gap.
func (r *Relay) Run(ctx context.Context) {
	defer r.dropLink(nil)
	ticker := time.NewTicker(r.cfg.PollEvery)
	defer ticker.Stop()
	backoff := time.Second
	for {
		if r.client() == nil {
			if err := r.connect(); err != nil {
				r.log.Warnf("Field controller %v:%v unreachable, retry in %v: %v", r.cfg.Host, r.cfg.Port, backoff, err)
				r.publishDisconnected()
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff *= 2; backoff > 10*time.Second {
					backoff = 10 * time.Second
				}
				continue
			}
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.pollOnce(); err != nil {
				r.log.Warnf("Status poll failed: %v", err)
				r.dropLink(err)
				r.publishDisconnected()
			}
		}
	}
}

func (r *Relay) connect() error {
	mb, err := modbus.NewTCP(net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port)))
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.mb = mb
	r.cl = mb.GetClient(r.cfg.Unit)
	r.mu.Unlock()
	r.log.Infof("Connected to field controller at %v:%v", r.cfg.Host, r.cfg.Port)
	return nil
}

func (r *Relay) client() modbus.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cl
}

func (r *Relay) dropLink(err error) {
	r.mu.Lock()
	mb := r.mb
	r.mb, r.cl = nil, nil
	r.mu.Unlock()
	if mb != nil {
		d := mb.Diagnostics()
		mb.Close()
		if err != nil {
			r.log.Warnf("Field controller link dropped: %v", err)
			r.log.Infof("Link totals: %v messages, %v comm errors, %v exceptions, %v overruns",
				d.Messages, d.CommErrors, d.Exceptions, d.Overruns)
		}
	}
}

// pollOnce reads the snapshot registers and republishes them.
func (r *Relay) pollOnce() error {
	cl := r.client()
	if cl == nil {
		return errNotConnected
	}
	got, err := cl.ReadInputs(0, regmap.IRCount, r.cfg.Timeout)
	if err != nil {
		return err
	}
	snap, err := regmap.ParseInputs(got.Values)
	if err != nil {
		return err
	}
	snap.Taken = time.Now()
	snap.Connected = true
	snap.SensorOnline, snap.DriverOnline, snap.CounterOnline = true, true, true
	r.bus.Publish(snap)
	return nil
}

func (r *Relay) publishDisconnected() {
	snap, _ := r.bus.Last()
	snap.Taken = time.Now()
	snap.Connected = false
	snap.SensorOnline, snap.DriverOnline, snap.CounterOnline = false, false, false
	r.bus.Publish(snap)
}

// Submit validates an envelope and forwards it as a command packet write
// to HR[10..15]. The controller's own router arbitrates from there.
func (r *Relay) Submit(env command.Envelope) error {
	if env.At.IsZero() {
		env.At = time.Now()
	}
	if err := env.Validate(r.cfg.Limits); err != nil {
		r.log.Warnf("Rejected %v: %v", env, err)
		return err
	}
	cl := r.client()
	if cl == nil {
		r.log.Warnf("Rejected %v: %v", env, errNotConnected)
		return errNotConnected
	}
	if _, err := cl.WriteMultipleHoldings(regmap.HRCommand, command.PackPacket(env), r.cfg.Timeout); err != nil {
		r.dropLink(err)
		return err
	}
	r.log.Infof("Forwarded %v", env)
	return nil
}

// SetMode writes the controller's mode register.
func (r *Relay) SetMode(mode int, src command.Source) error {
	if mode != int(telemetry.ModeAuto) && mode != int(telemetry.ModeManual) {
		r.log.Warnf("Rejected mode %v from %v", mode, src)
		return modbus.IllegalValueErrorF("Mode must be 0 (AUTO) or 1 (MANUAL), not %v", mode)
	}
	cl := r.client()
	if cl == nil {
		return errNotConnected
	}
	if _, err := cl.WriteSingleHolding(regmap.HRMode, mode, r.cfg.Timeout); err != nil {
		r.dropLink(err)
		return err
	}
	r.log.Infof("Mode set to %v by %v", telemetry.Mode(mode), src)
	return nil
}

// SetTarget writes the controller's counter target register.
func (r *Relay) SetTarget(target int, src command.Source) error {
	if err := r.cfg.Limits.CheckTarget(target); err != nil {
		r.log.Warnf("Rejected target %v from %v: %v", target, src, err)
		return err
	}
	cl := r.client()
	if cl == nil {
		return errNotConnected
	}
	if _, err := cl.WriteSingleHolding(regmap.HRTarget, target, r.cfg.Timeout); err != nil {
		r.dropLink(err)
		return err
	}
	r.log.Infof("Counter target set to %v by %v", target, src)
	return nil
}
