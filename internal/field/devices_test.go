package field

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/telemetry"
	"github.com/fieldgate/fieldgate/modbus"
)

// fakeClient scripts one serial slave. Reads serve canned register blocks
// keyed by start address; writes are recorded. A non-nil err fails every
// call, simulating a slave that stopped answering.
type fakeClient struct {
	mu       sync.Mutex
	unit     int
	holdings map[int][]int
	inputs   map[int][]int
	err      error
	writes   []write
}

type write struct {
	address int
	values  []int
}

func newFakeClient(unit int) *fakeClient {
	return &fakeClient{
		unit:     unit,
		holdings: make(map[int][]int),
		inputs:   make(map[int][]int),
	}
}

func (f *fakeClient) UnitID() int { return f.unit }

func (f *fakeClient) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeClient) ReadHoldings(from, count int, tout time.Duration) (*modbus.X03xReadHolding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	vals, ok := f.holdings[from]
	if !ok || len(vals) < count {
		return nil, modbus.IllegalAddressErrorF("no script for holdings %v+%v", from, count)
	}
	return &modbus.X03xReadHolding{Address: from, Values: append([]int(nil), vals[:count]...)}, nil
}

func (f *fakeClient) ReadInputs(from, count int, tout time.Duration) (*modbus.X04xReadInputs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	vals, ok := f.inputs[from]
	if !ok || len(vals) < count {
		return nil, modbus.IllegalAddressErrorF("no script for inputs %v+%v", from, count)
	}
	return &modbus.X04xReadInputs{Address: from, Values: append([]int(nil), vals[:count]...)}, nil
}

func (f *fakeClient) WriteSingleHolding(address, value int, tout time.Duration) (*modbus.X06xWriteSingleHolding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.writes = append(f.writes, write{address, []int{value}})
	return &modbus.X06xWriteSingleHolding{Address: address, Value: value}, nil
}

func (f *fakeClient) WriteMultipleHoldings(address int, values []int, tout time.Duration) (*modbus.X10xWriteMultipleHoldings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.writes = append(f.writes, write{address, append([]int(nil), values...)})
	return &modbus.X10xWriteMultipleHoldings{Address: address, Count: len(values)}, nil
}

func (f *fakeClient) wrote() []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]write(nil), f.writes...)
}

func (f *fakeClient) lastWrite() (write, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return write{}, false
	}
	return f.writes[len(f.writes)-1], true
}

// testDevices builds a device pool over three scripted slaves.
func testDevices() (*Devices, *fakeClient, *fakeClient, *fakeClient) {
	snsr := newFakeClient(1)
	drv := newFakeClient(2)
	cnt := newFakeClient(3)
	dev := &Devices{
		sensor:  snsr,
		driver:  drv,
		counter: cnt,
		tout:    time.Second,
		log:     zap.NewNop().Sugar(),
	}
	return dev, snsr, drv, cnt
}

func TestReadSensor(t *testing.T) {
	dev, snsr, _, _ := testDevices()
	snsr.inputs[sensorRegClimate] = []int{250, 500}

	temp, humi, err := dev.ReadSensor()
	require.NoError(t, err)
	assert.Equal(t, 250, temp)
	assert.Equal(t, 500, humi)
}

func TestReadSensorNegativeTemperature(t *testing.T) {
	dev, snsr, _, _ := testDevices()
	snsr.inputs[sensorRegClimate] = []int{0xFFF1, 300}

	temp, _, err := dev.ReadSensor()
	require.NoError(t, err)
	assert.Equal(t, -15, temp, "temperature is signed on the wire")
}

func TestReadPosition(t *testing.T) {
	dev, _, drv, _ := testDevices()
	drv.holdings[drvRegPosition] = []int{0, 20000}

	pos, err := dev.ReadPosition()
	require.NoError(t, err)
	assert.Equal(t, 20000, pos)

	drv.holdings[drvRegPosition] = []int{0xFFFF, 0xEC78}
	pos, err = dev.ReadPosition()
	require.NoError(t, err)
	assert.Equal(t, -5000, pos)
}

func TestReadDriverStatus(t *testing.T) {
	dev, _, drv, _ := testDevices()

	// Running (bit 2), in-position (bit 4) and alarm (bit 8): the device
	// packs them differently than the gateway's own status word.
	drv.holdings[drvRegStatus] = []int{drvBitRunning | drvBitInPos}
	alarm, inPos, running, err := dev.ReadDriverStatus()
	require.NoError(t, err)
	assert.False(t, alarm)
	assert.True(t, inPos)
	assert.True(t, running)

	drv.holdings[drvRegStatus] = []int{drvBitAlarm}
	alarm, inPos, running, err = dev.ReadDriverStatus()
	require.NoError(t, err)
	assert.True(t, alarm)
	assert.False(t, inPos)
	assert.False(t, running)
}

func TestReadCounter(t *testing.T) {
	dev, _, _, cnt := testDevices()
	cnt.holdings[cntRegBlock] = []int{7, 10, 0, 0}

	value, target, done, err := dev.ReadCounter()
	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.Equal(t, 10, target)
	assert.False(t, done)

	cnt.holdings[cntRegBlock] = []int{10, 10, cntBitDone, 0}
	_, _, done, err = dev.ReadCounter()
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMotorMoveAbsFraming(t *testing.T) {
	dev, _, drv, _ := testDevices()
	require.NoError(t, dev.MotorMoveAbs(5000, 8000))

	got, ok := drv.lastWrite()
	require.True(t, ok)
	assert.Equal(t, drvRegMove, got.address)
	assert.Equal(t, []int{0x0000, 0x1388, 0x0000, 0x1F40}, got.values)
}

func TestMotorMoveAbsNegative(t *testing.T) {
	dev, _, drv, _ := testDevices()
	require.NoError(t, dev.MotorMoveAbs(-5000, 100))

	got, _ := drv.lastWrite()
	assert.Equal(t, []int{0xFFFF, 0xEC78, 0, 100}, got.values)
}

func TestMotorJogFraming(t *testing.T) {
	dev, _, drv, _ := testDevices()

	require.NoError(t, dev.MotorJog(true, 1000))
	got, _ := drv.lastWrite()
	assert.Equal(t, drvRegJog, got.address)
	assert.Equal(t, []int{0, 1000, 0, 1}, got.values)

	require.NoError(t, dev.MotorJog(false, 500))
	got, _ = drv.lastWrite()
	assert.Equal(t, []int{0, 500, 0, 0}, got.values)
}

func TestMotorSingleWrites(t *testing.T) {
	dev, _, drv, cnt := testDevices()

	require.NoError(t, dev.MotorStep(true))
	require.NoError(t, dev.MotorStep(false))
	require.NoError(t, dev.MotorResetAlarm())
	require.NoError(t, dev.MotorStop())
	assert.Equal(t, []write{
		{drvRegStep, []int{1}},
		{drvRegStep, []int{0}},
		{drvRegAlarmRst, []int{1}},
		{drvRegStop, []int{1}},
	}, drv.wrote())

	require.NoError(t, dev.CounterSetTarget(10))
	require.NoError(t, dev.CounterReset())
	assert.Equal(t, []write{
		{cntRegTarget, []int{10}},
		{cntRegReset, []int{1}},
	}, cnt.wrote())
}

func scriptHealthy(snsr, drv, cnt *fakeClient) {
	snsr.inputs[sensorRegClimate] = []int{250, 500}
	drv.holdings[drvRegPosition] = []int{0, 20000}
	drv.holdings[drvRegStatus] = []int{drvBitRunning}
	cnt.holdings[cntRegBlock] = []int{3, 10, 0, 0}
}

func TestPollAllOnline(t *testing.T) {
	dev, snsr, drv, cnt := testDevices()
	scriptHealthy(snsr, drv, cnt)

	snap := dev.Poll(telemetry.Snapshot{})
	assert.True(t, snap.SensorOnline)
	assert.True(t, snap.DriverOnline)
	assert.True(t, snap.CounterOnline)
	assert.Equal(t, 250, snap.TemperatureX10)
	assert.Equal(t, 20000, snap.Position)
	assert.True(t, snap.Running)
	assert.Equal(t, 3, snap.CounterValue)
	assert.Equal(t, 10, snap.CounterTarget)
	assert.False(t, snap.Taken.IsZero())
}

func TestPollKeepsLastGood(t *testing.T) {
	dev, snsr, drv, cnt := testDevices()
	scriptHealthy(snsr, drv, cnt)
	prev := dev.Poll(telemetry.Snapshot{})

	snsr.setErr(errors.New("bus noise"))
	snap := dev.Poll(prev)

	assert.False(t, snap.SensorOnline, "failing device is flagged")
	assert.Equal(t, 250, snap.TemperatureX10, "but its last reading stays")
	assert.True(t, snap.DriverOnline)
	assert.True(t, snap.CounterOnline)

	snsr.setErr(nil)
	snap = dev.Poll(snap)
	assert.True(t, snap.SensorOnline, "device recovers on the next good poll")
}

func TestPollDriverHalfDown(t *testing.T) {
	dev, snsr, drv, cnt := testDevices()
	scriptHealthy(snsr, drv, cnt)
	prev := dev.Poll(telemetry.Snapshot{})

	// Status register stops answering while position still reads.
	delete(drv.holdings, drvRegStatus)
	snap := dev.Poll(prev)
	assert.False(t, snap.DriverOnline)
	assert.Equal(t, 20000, snap.Position, "the half that answered is taken")
	assert.True(t, snap.Running, "the half that failed keeps its last value")
}
