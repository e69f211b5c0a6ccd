package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeText(t *testing.T) {
	assert.Equal(t, "MOVE_ABS", MoveAbs.String())
	assert.Equal(t, "EMERGENCY", Emergency.String())
	assert.Equal(t, "CMD_4", Code(4).String())
	assert.False(t, Code(4).Known())
	assert.True(t, StepOn.Known())
}

func TestCodeMotion(t *testing.T) {
	motion := []Code{StepOn, StepOff, MoveAbs, JogCW, JogCCW}
	for _, c := range motion {
		assert.True(t, c.Motion(), "%v", c)
	}
	for _, c := range []Code{Stop, ResetAlarm, Emergency} {
		assert.False(t, c.Motion(), "%v", c)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		ok   bool
	}{
		{"move in range", Envelope{Code: MoveAbs, Position: 5000, Speed: 8000}, true},
		{"move negative position", Envelope{Code: MoveAbs, Position: -5000, Speed: 8000}, true},
		{"move position too far", Envelope{Code: MoveAbs, Position: 2_000_000_001, Speed: 100}, false},
		{"move zero speed", Envelope{Code: MoveAbs, Position: 100, Speed: 0}, false},
		{"move speed too fast", Envelope{Code: MoveAbs, Position: 100, Speed: 200_001}, false},
		{"jog", Envelope{Code: JogCW, Speed: 1000}, true},
		{"jog zero speed", Envelope{Code: JogCCW, Speed: 0}, false},
		{"stop needs no speed", Envelope{Code: Stop}, true},
		{"reset alarm", Envelope{Code: ResetAlarm}, true},
		{"unknown code", Envelope{Code: Code(4)}, false},
		{"unassigned code", Envelope{Code: Code(99)}, false},
	}
	for _, c := range cases {
		err := c.env.Validate(Limits{})
		if c.ok {
			assert.NoError(t, err, c.name)
		} else {
			assert.Error(t, err, c.name)
		}
	}
}

func TestValidateCustomLimits(t *testing.T) {
	l := Limits{PosAbsMax: 1000, SpeedMax: 50}
	assert.NoError(t, Envelope{Code: MoveAbs, Position: 1000, Speed: 50}.Validate(l))
	assert.Error(t, Envelope{Code: MoveAbs, Position: 1001, Speed: 50}.Validate(l))
	assert.Error(t, Envelope{Code: JogCW, Speed: 51}.Validate(l))
}

func TestCheckTarget(t *testing.T) {
	assert.Error(t, Limits{}.CheckTarget(0))
	assert.Error(t, Limits{}.CheckTarget(-3))
	assert.NoError(t, Limits{}.CheckTarget(1))
	assert.NoError(t, Limits{}.CheckTarget(65535))
	assert.Error(t, Limits{}.CheckTarget(65536))
	assert.Error(t, Limits{TargetMax: 10}.CheckTarget(11))
	assert.NoError(t, Limits{TargetMax: 10}.CheckTarget(10))
}

func TestPackPacket(t *testing.T) {
	env := Envelope{Code: MoveAbs, Position: 5000, Speed: 8000, Source: SourceSupervisor, Priority: PrioritySupervisor}
	assert.Equal(t, []int{3, 0, 5000, 8000, 2, 2}, PackPacket(env))

	env = Envelope{Code: MoveAbs, Position: -5000, Speed: 70000, Source: SourceOperator, Priority: PriorityOperator}
	assert.Equal(t, []int{3, 0xFFFF, 0xEC78, 65535, 3, 3}, PackPacket(env), "speed clamps to one register")

	env = Envelope{Code: Stop, Source: SourceLocal, Priority: PriorityLocal}
	assert.Equal(t, []int{7, 0, 0, 0, 1, 1}, PackPacket(env))
}

func TestDecodePacket(t *testing.T) {
	at := time.Now()

	env, ok, err := DecodePacket([]int{0, 0, 0, 0, 0, 0}, at)
	require.NoError(t, err)
	assert.False(t, ok, "cmd register zero means nothing pending")
	assert.Equal(t, Envelope{}, env)

	env, ok, err = DecodePacket([]int{3, 0, 5000, 8000, 2, 2}, at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MoveAbs, env.Code)
	assert.Equal(t, 5000, env.Position)
	assert.Equal(t, 8000, env.Speed)
	assert.Equal(t, SourceSupervisor, env.Source)
	assert.Equal(t, PrioritySupervisor, env.Priority)
	assert.Equal(t, at, env.At)

	// Negative positions come back signed.
	env, ok, err = DecodePacket([]int{3, 0xFFFF, 0xEC78, 100, 3, 3}, at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -5000, env.Position)
}

func TestDecodePacketTooShort(t *testing.T) {
	_, _, err := DecodePacket([]int{3, 0, 0}, time.Now())
	assert.Error(t, err)
}

func TestDecodePacketSourceFallbacks(t *testing.T) {
	at := time.Now()

	// Unknown source collapses to Local with the local priority.
	env, ok, err := DecodePacket([]int{7, 0, 0, 0, 42, 3}, at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceLocal, env.Source)
	assert.Equal(t, PriorityLocal, env.Priority)

	// Out of range priorities clamp to the source default.
	env, _, err = DecodePacket([]int{7, 0, 0, 0, 2, 9}, at)
	require.NoError(t, err)
	assert.Equal(t, PrioritySupervisor, env.Priority)

	env, _, err = DecodePacket([]int{7, 0, 0, 0, 3, 0}, at)
	require.NoError(t, err)
	assert.Equal(t, PriorityOperator, env.Priority)

	// In range priorities are taken as sent.
	env, _, err = DecodePacket([]int{7, 0, 0, 0, 3, 2}, at)
	require.NoError(t, err)
	assert.Equal(t, 2, env.Priority)
}

func TestPacketRoundTrip(t *testing.T) {
	at := time.Now()
	in := Envelope{Code: JogCCW, Speed: 1500, Source: SourceOperator, Priority: PriorityOperator, At: at}
	out, ok, err := DecodePacket(PackPacket(in), at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, out)
}
