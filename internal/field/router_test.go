package field

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/command"
	"github.com/fieldgate/fieldgate/internal/telemetry"
)

func testRouter() (*Router, *fakeClient, *Image, *estop) {
	dev, _, drv, _ := testDevices()
	img := NewImage(zap.NewNop().Sugar())
	stop := &estop{}
	r := NewRouter(dev, img, stop, command.Limits{}, zap.NewNop().Sugar())
	return r, drv, img, stop
}

func runRouter(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
	go r.Watch(ctx)
}

// waitWrites polls the fake driver until it has seen want writes.
func waitWrites(t *testing.T, drv *fakeClient, want int) []write {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := drv.wrote(); len(got) >= want {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("driver saw %v writes, want %v", len(drv.wrote()), want)
	return nil
}

func queueDepth(r *Router) int {
	return len(r.queue)
}

func TestSubmitValidates(t *testing.T) {
	r, _, _, _ := testRouter()

	err := r.Submit(command.Envelope{Code: command.MoveAbs, Position: 100, Speed: 0, Source: command.SourceOperator, Priority: 3})
	require.Error(t, err)
	assert.Equal(t, 0, queueDepth(r), "invalid envelopes are not queued")

	err = r.Submit(command.Envelope{Code: command.Code(4), Source: command.SourceOperator, Priority: 3})
	require.Error(t, err)
}

func TestEmergencyExecutesImmediately(t *testing.T) {
	r, drv, _, stop := testRouter()

	// No Run goroutine: the stop must not depend on queue dispatch.
	err := r.Submit(command.Envelope{Code: command.Emergency, Source: command.SourceOperator, Priority: 3})
	require.NoError(t, err)

	got := drv.wrote()
	require.Len(t, got, 1)
	assert.Equal(t, write{drvRegStop, []int{1}}, got[0])
	assert.True(t, stop.active())
}

func TestLatchRejectsMotion(t *testing.T) {
	r, _, _, stop := testRouter()
	stop.trip()

	err := r.Submit(command.Envelope{Code: command.JogCW, Speed: 100, Source: command.SourceOperator, Priority: 3})
	assert.ErrorIs(t, err, errLatched)
	assert.Equal(t, 0, queueDepth(r))

	// Non-motion commands still pass while latched.
	err = r.Submit(command.Envelope{Code: command.Stop, Source: command.SourceOperator, Priority: 3})
	assert.NoError(t, err)
	err = r.Submit(command.Envelope{Code: command.ResetAlarm, Source: command.SourceOperator, Priority: 3})
	assert.NoError(t, err)
}

func TestLatchClearedByModeWrite(t *testing.T) {
	r, _, img, stop := testRouter()
	runRouter(t, r)

	require.NoError(t, r.Submit(command.Envelope{Code: command.Emergency, Source: command.SourceOperator, Priority: 3}))
	require.True(t, stop.active())

	// Any mode write clears the latch, even one that does not change mode.
	require.NoError(t, img.SetMode(telemetry.ModeAuto))

	deadline := time.Now().Add(time.Second)
	for stop.active() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	assert.False(t, stop.active())
}

func TestArbitrationHigherPriorityWins(t *testing.T) {
	r, drv, _, _ := testRouter()
	runRouter(t, r)

	// A cycle move and an operator stop land in the same window: the stop
	// outranks, the move is dropped.
	require.NoError(t, r.Submit(command.Envelope{Code: command.MoveAbs, Position: 5000, Speed: 8000, Source: command.SourceLocal, Priority: command.PriorityLocal}))
	require.NoError(t, r.Submit(command.Envelope{Code: command.Stop, Source: command.SourceOperator, Priority: command.PriorityOperator}))

	waitWrites(t, drv, 1)
	time.Sleep(50 * time.Millisecond)
	got := drv.wrote()
	require.Len(t, got, 1, "the outranked move must not reach the driver")
	assert.Equal(t, write{drvRegStop, []int{1}}, got[0])
}

func TestArbitrationEqualPriorityKeepsOrder(t *testing.T) {
	r, drv, _, _ := testRouter()
	runRouter(t, r)

	require.NoError(t, r.Submit(command.Envelope{Code: command.StepOn, Source: command.SourceOperator, Priority: 3}))
	require.NoError(t, r.Submit(command.Envelope{Code: command.StepOff, Source: command.SourceOperator, Priority: 3}))

	got := waitWrites(t, drv, 2)
	assert.Equal(t, []write{
		{drvRegStep, []int{1}},
		{drvRegStep, []int{0}},
	}, got[:2])
}

func TestQueueFull(t *testing.T) {
	r, _, _, _ := testRouter()

	// Nothing drains the queue here.
	for i := 0; i < 16; i++ {
		require.NoError(t, r.Submit(command.Envelope{Code: command.Stop, Source: command.SourceOperator, Priority: 3}))
	}
	err := r.Submit(command.Envelope{Code: command.Stop, Source: command.SourceOperator, Priority: 3})
	assert.ErrorIs(t, err, errQueueFull)
}

func TestExecuteMaintainsMirrors(t *testing.T) {
	r, _, _, _ := testRouter()

	r.execute(command.Envelope{Code: command.StepOn})
	step, jog, speed := r.Mirrors()
	assert.True(t, step)
	assert.Equal(t, telemetry.JogOff, jog)
	assert.Equal(t, 0, speed)

	r.execute(command.Envelope{Code: command.MoveAbs, Position: 5000, Speed: 8000})
	_, jog, speed = r.Mirrors()
	assert.Equal(t, telemetry.JogOff, jog)
	assert.Equal(t, 8000, speed)

	r.execute(command.Envelope{Code: command.JogCCW, Speed: 300})
	step, jog, speed = r.Mirrors()
	assert.True(t, step, "step mirror unaffected by jogs")
	assert.Equal(t, telemetry.JogCCW, jog)
	assert.Equal(t, 300, speed)

	r.execute(command.Envelope{Code: command.Stop})
	_, jog, speed = r.Mirrors()
	assert.Equal(t, telemetry.JogOff, jog)
	assert.Equal(t, 0, speed)
}

func TestExecuteFailureSkipsMirror(t *testing.T) {
	r, drv, _, _ := testRouter()
	drv.setErr(errors.New("scripted failure"))

	r.execute(command.Envelope{Code: command.JogCW, Speed: 300})
	_, jog, speed := r.Mirrors()
	assert.Equal(t, telemetry.JogOff, jog, "failed operations leave mirrors alone")
	assert.Equal(t, 0, speed)
}

func TestRouterSetMode(t *testing.T) {
	r, _, img, _ := testRouter()

	require.NoError(t, r.SetMode(1, command.SourceOperator))
	assert.Equal(t, telemetry.ModeManual, img.Mode())

	assert.Error(t, r.SetMode(5, command.SourceOperator))
	assert.Equal(t, telemetry.ModeManual, img.Mode())
}

func TestRouterSetTarget(t *testing.T) {
	r, _, img, _ := testRouter()

	require.NoError(t, r.SetTarget(10, command.SourceSupervisor))
	assert.Equal(t, 10, img.Target())

	assert.Error(t, r.SetTarget(0, command.SourceSupervisor))
	assert.Error(t, r.SetTarget(70000, command.SourceSupervisor))
	assert.Equal(t, 10, img.Target(), "rejected targets never reach the register")
}

func TestConsumePacketInManual(t *testing.T) {
	r, _, img, _ := testRouter()
	require.NoError(t, img.SetMode(telemetry.ModeManual))

	r.consumePacket([]int{5, 0, 0, 300, 3, 3})

	require.Equal(t, 1, queueDepth(r))
	env := <-r.queue
	assert.Equal(t, command.JogCW, env.Code)
	assert.Equal(t, 300, env.Speed)
	assert.Equal(t, command.SourceOperator, env.Source)
}

func TestConsumePacketIgnoredInAuto(t *testing.T) {
	r, _, img, _ := testRouter()
	require.Equal(t, telemetry.ModeAuto, img.Mode())

	// Stage the packet in the registers so the clear is observable.
	require.NoError(t, img.Server().WriteHoldingsAtomic(10, []int{5, 0, 0, 300, 3, 3}))
	r.consumePacket([]int{5, 0, 0, 300, 3, 3})

	assert.Equal(t, 0, queueDepth(r), "packet commands only count in MANUAL mode")
	regs, err := img.Server().ReadHoldingsAtomic(10, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, regs, "the command slot is cleared either way")
}

func TestConsumePacketMalformed(t *testing.T) {
	r, _, img, _ := testRouter()
	require.NoError(t, img.SetMode(telemetry.ModeManual))

	r.consumePacket([]int{3, 0})
	assert.Equal(t, 0, queueDepth(r))

	r.consumePacket([]int{0, 0, 0, 0, 0, 0})
	assert.Equal(t, 0, queueDepth(r), "an empty slot decodes to nothing")
}
