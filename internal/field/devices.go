package field

import (
	"time"

	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/telemetry"
	"github.com/fieldgate/fieldgate/modbus"
)

// Sensor registers (FC04).
const (
	sensorRegClimate = 0x0001 // 2 regs: temperature x10 signed, humidity x10
)

// Motor driver registers.
const (
	drvRegStep     = 0x0000 // FC06: 1 enables step output, 0 disables
	drvRegAlarmRst = 0x0001 // FC06: write 1 to clear a latched alarm
	drvRegStop     = 0x0002 // FC06: write 1 to stop motion
	drvRegMove     = 0x0020 // FC16: pos_hi, pos_lo, speed_hi, speed_lo
	drvRegJog      = 0x0030 // FC16: speed_hi, speed_lo, 0, dir (1=CW, 0=CCW)
	drvRegPosition = 0x1000 // FC03, 2 regs: signed 32-bit position
	drvRegStatus   = 0x1010 // FC03, 1 reg: status word
)

// Driver status word bits.
const (
	drvBitRunning = 1 << 2
	drvBitInPos   = 1 << 4
	drvBitAlarm   = 1 << 8
)

// Counter registers.
const (
	cntRegBlock  = 0x0000 // FC03, 4 regs: value, target, flags, spare
	cntRegTarget = 0x0001 // FC06: preset target
	cntRegReset  = 0x0003 // FC06: write 1 to zero the count
)

const cntBitDone = 1 << 0

// Devices talks to the three slaves on the serial bus. Methods are safe for
// concurrent use: the bus itself serializes transactions, one per wire.
type Devices struct {
	sensor  modbus.Client
	driver  modbus.Client
	counter modbus.Client
	tout    time.Duration
	log     *zap.SugaredLogger
}

// DeviceUnits carries the slave addresses of the three bus devices.
type DeviceUnits struct {
	Sensor  int
	Driver  int
	Counter int
}

// NewDevices binds device clients on the given bus. tout bounds each
// transaction including the serial round trip.
func NewDevices(bus modbus.Modbus, units DeviceUnits, tout time.Duration, log *zap.SugaredLogger) *Devices {
	if tout <= 0 {
		tout = time.Second
	}
	return &Devices{
		sensor:  bus.GetClient(units.Sensor),
		driver:  bus.GetClient(units.Driver),
		counter: bus.GetClient(units.Counter),
		tout:    tout,
		log:     log,
	}
}

// ReadSensor returns temperature and humidity in tenths. Temperature is
// signed on the wire.
func (d *Devices) ReadSensor() (tempX10, humiX10 int, err error) {
	got, err := d.sensor.ReadInputs(sensorRegClimate, 2, d.tout)
	if err != nil {
		return 0, 0, err
	}
	t := got.Values[0]
	if t > 32767 {
		t -= 65536
	}
	return t, got.Values[1], nil
}

// ReadPosition returns the driver's current position in pulses.
func (d *Devices) ReadPosition() (int, error) {
	got, err := d.driver.ReadHoldings(drvRegPosition, 2, d.tout)
	if err != nil {
		return 0, err
	}
	return modbus.RegsToS32(got.Values[0], got.Values[1]), nil
}

// ReadDriverStatus decodes the driver status word.
func (d *Devices) ReadDriverStatus() (alarm, inPos, running bool, err error) {
	got, err := d.driver.ReadHoldings(drvRegStatus, 1, d.tout)
	if err != nil {
		return false, false, false, err
	}
	sw := got.Values[0]
	return sw&drvBitAlarm != 0, sw&drvBitInPos != 0, sw&drvBitRunning != 0, nil
}

// ReadCounter returns the current count, the preset target, and whether the
// counter reports the target reached.
func (d *Devices) ReadCounter() (value, target int, done bool, err error) {
	got, err := d.counter.ReadHoldings(cntRegBlock, 4, d.tout)
	if err != nil {
		return 0, 0, false, err
	}
	return got.Values[0], got.Values[1], got.Values[2]&cntBitDone != 0, nil
}

// MotorStep switches the driver's step output on or off.
func (d *Devices) MotorStep(on bool) error {
	v := 0
	if on {
		v = 1
	}
	_, err := d.driver.WriteSingleHolding(drvRegStep, v, d.tout)
	return err
}

// MotorResetAlarm clears a latched driver alarm.
func (d *Devices) MotorResetAlarm() error {
	_, err := d.driver.WriteSingleHolding(drvRegAlarmRst, 1, d.tout)
	return err
}

// MotorStop halts any motion in progress.
func (d *Devices) MotorStop() error {
	_, err := d.driver.WriteSingleHolding(drvRegStop, 1, d.tout)
	return err
}

// MotorMoveAbs commands an absolute move. pos is signed pulses, speed is
// pulses per second.
func (d *Devices) MotorMoveAbs(pos, speed int) error {
	posHi, posLo := modbus.S32ToRegs(pos)
	spdHi, spdLo := modbus.S32ToRegs(speed)
	_, err := d.driver.WriteMultipleHoldings(drvRegMove, []int{posHi, posLo, spdHi, spdLo}, d.tout)
	return err
}

// MotorJog starts a continuous jog at the given speed.
func (d *Devices) MotorJog(cw bool, speed int) error {
	dir := 0
	if cw {
		dir = 1
	}
	spdHi, spdLo := modbus.S32ToRegs(speed)
	_, err := d.driver.WriteMultipleHoldings(drvRegJog, []int{spdHi, spdLo, 0, dir}, d.tout)
	return err
}

// CounterSetTarget presets the counter target.
func (d *Devices) CounterSetTarget(target int) error {
	_, err := d.counter.WriteSingleHolding(cntRegTarget, target, d.tout)
	return err
}

// CounterReset zeroes the count.
func (d *Devices) CounterReset() error {
	_, err := d.counter.WriteSingleHolding(cntRegReset, 1, d.tout)
	return err
}

// Poll reads all three devices once and folds the results into prev. A
// device that fails to answer keeps its previous values and has its online
// flag dropped, so one flaky slave does not blank the whole snapshot.
func (d *Devices) Poll(prev telemetry.Snapshot) telemetry.Snapshot {
	snap := prev
	snap.Taken = time.Now()

	temp, humi, err := d.ReadSensor()
	if err != nil {
		d.noteOffline("sensor", prev.SensorOnline, err)
		snap.SensorOnline = false
	} else {
		snap.TemperatureX10, snap.HumidityX10 = temp, humi
		d.noteOnline("sensor", prev.SensorOnline)
		snap.SensorOnline = true
	}

	pos, perr := d.ReadPosition()
	alarm, inPos, running, serr := d.ReadDriverStatus()
	if perr == nil {
		snap.Position = pos
	}
	if serr == nil {
		snap.Alarm, snap.InPosition, snap.Running = alarm, inPos, running
	}
	if perr != nil || serr != nil {
		err := perr
		if err == nil {
			err = serr
		}
		d.noteOffline("driver", prev.DriverOnline, err)
		snap.DriverOnline = false
	} else {
		d.noteOnline("driver", prev.DriverOnline)
		snap.DriverOnline = true
	}

	value, target, done, cerr := d.ReadCounter()
	if cerr != nil {
		d.noteOffline("counter", prev.CounterOnline, cerr)
		snap.CounterOnline = false
	} else {
		snap.CounterValue, snap.CounterTarget, snap.CounterDone = value, target, done
		d.noteOnline("counter", prev.CounterOnline)
		snap.CounterOnline = true
	}

	return snap
}

func (d *Devices) noteOffline(name string, wasOnline bool, err error) {
	if wasOnline {
		d.log.Warnf("Device %v stopped answering: %v", name, err)
	} else {
		d.log.Debugf("Device %v still offline: %v", name, err)
	}
}

func (d *Devices) noteOnline(name string, wasOnline bool) {
	if !wasOnline {
		d.log.Infof("Device %v answering", name)
	}
}
