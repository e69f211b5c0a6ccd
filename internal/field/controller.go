// Package field implements the controller tier of the gateway: the serial
// device pool, the register image masters talk to, the MANUAL command
// router and the AUTO cycle engine, composed behind one Controller.
package field

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/command"
	"github.com/fieldgate/fieldgate/internal/telemetry"
	"github.com/fieldgate/fieldgate/modbus"
)

// Config collects the controller's tunables. Zero values take defaults.
type Config struct {
	Units     DeviceUnits
	Timeout   time.Duration // per serial transaction
	PollEvery time.Duration // device poll interval
	Limits    command.Limits
	Engine    EngineTuning
}

func (c Config) withDefaults() Config {
	if c.Units.Sensor == 0 {
		c.Units.Sensor = 1
	}
	if c.Units.Driver == 0 {
		c.Units.Driver = 2
	}
	if c.Units.Counter == 0 {
		c.Units.Counter = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.PollEvery <= 0 {
		c.PollEvery = 300 * time.Millisecond
	}
	return c
}

// Controller owns the field tier. Construct with NewController, serve the
// register image over Modbus TCP via Image().Server(), and feed operator
// commands through Router().
type Controller struct {
	cfg    Config
	dev    *Devices
	img    *Image
	router *Router
	engine *Engine
	bus    *telemetry.Bus
	log    *zap.SugaredLogger
}

// NewController wires devices, image, router and engine over the given
// serial bus.
func NewController(serial modbus.Modbus, cfg Config, log *zap.SugaredLogger) *Controller {
	cfg = cfg.withDefaults()
	stop := &estop{}
	dev := NewDevices(serial, cfg.Units, cfg.Timeout, log)
	img := NewImage(log)
	router := NewRouter(dev, img, stop, cfg.Limits, log)
	bus := telemetry.NewBus()
	engine := NewEngine(dev, img, router, bus, stop, cfg.Engine, log)
	return &Controller{
		cfg:    cfg,
		dev:    dev,
		img:    img,
		router: router,
		engine: engine,
		bus:    bus,
		log:    log,
	}
}

// Image exposes the register image, for the Modbus TCP front end.
func (c *Controller) Image() *Image { return c.img }

// Router exposes the command entry point, for the JSON front end.
func (c *Controller) Router() *Router { return c.router }

// Bus exposes the snapshot stream, for status publishers.
func (c *Controller) Bus() *telemetry.Bus { return c.bus }

// Engine exposes the cycle engine, mainly for enable toggling.
func (c *Controller) Engine() *Engine { return c.engine }

// Run polls devices and drives the router and engine until ctx is
// cancelled, then waits for all of them to drain.
func (c *Controller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		c.router.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.router.Watch(ctx)
	}()
	go func() {
		defer wg.Done()
		c.engine.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.poll(ctx)
	}()
	wg.Wait()
}

// poll reads the devices on a fixed cadence, folds in controller state and
// publishes the result to subscribers and the input registers.
func (c *Controller) poll(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollEvery)
	defer ticker.Stop()
	var last telemetry.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap := c.dev.Poll(last)
		snap.AutoState = c.engine.State()
		snap.Mode = c.img.Mode()
		snap.StepEnabled, snap.JogState, snap.Speed = c.router.Mirrors()
		snap.Connected = true
		c.bus.Publish(snap)
		if err := c.img.UpdateInputs(snap); err != nil {
			c.log.Warnf("Input register update failed: %v", err)
		}
		last = snap
	}
}
