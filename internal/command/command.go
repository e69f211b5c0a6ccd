// Package command defines the command envelope that every control path in
// the gateway converges on: JSON operator messages, supervisor packets
// arriving through holding registers 10..15, and the cycle engine's own
// motion requests all become Envelopes before they reach a motor.
package command

import (
	"fmt"
	"time"

	"github.com/fieldgate/fieldgate/modbus"
)

// Code is the numeric command selector shared with the legacy masters.
// Value 4 is unassigned on the wire and stays unassigned here.
type Code int

const (
	StepOn     Code = 1
	StepOff    Code = 2
	MoveAbs    Code = 3
	JogCW      Code = 5
	JogCCW     Code = 6
	Stop       Code = 7
	ResetAlarm Code = 8
	Emergency  Code = 9
)

var codeText = map[Code]string{
	StepOn:     "STEP_ON",
	StepOff:    "STEP_OFF",
	MoveAbs:    "MOVE_ABS",
	JogCW:      "JOG_CW",
	JogCCW:     "JOG_CCW",
	Stop:       "STOP",
	ResetAlarm: "RESET_ALARM",
	Emergency:  "EMERGENCY",
}

func (c Code) String() string {
	if txt, ok := codeText[c]; ok {
		return txt
	}
	return fmt.Sprintf("CMD_%d", int(c))
}

// Known reports whether c is an assigned command code.
func (c Code) Known() bool {
	_, ok := codeText[c]
	return ok
}

// Motion reports whether c moves or enables the motor. The emergency latch
// and the AUTO-mode gate apply to these.
func (c Code) Motion() bool {
	switch c {
	case StepOn, StepOff, MoveAbs, JogCW, JogCCW:
		return true
	}
	return false
}

// Source identifies who issued a command. The numeric values are the wire
// codes carried in register 14 of a command packet.
type Source int

const (
	// SourceLocal is the gateway itself: the cycle engine, or an
	// operator action the gateway treats as its own.
	SourceLocal Source = 1
	// SourceSupervisor is the relay tier.
	SourceSupervisor Source = 2
	// SourceOperator is a JSON operator client.
	SourceOperator Source = 3
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "Local"
	case SourceSupervisor:
		return "Supervisor"
	case SourceOperator:
		return "Operator"
	}
	return fmt.Sprintf("Source_%d", int(s))
}

// Priorities carried by envelopes. Higher wins inside the arbitration window.
const (
	PriorityLocal      = 1
	PrioritySupervisor = 2
	PriorityOperator   = 3
)

// Envelope is one command on its way to the motor.
type Envelope struct {
	Code     Code
	Position int
	Speed    int
	Source   Source
	Priority int
	At       time.Time
}

func (e Envelope) String() string {
	switch e.Code {
	case MoveAbs:
		return fmt.Sprintf("%v pos=%v speed=%v from %v prio=%v", e.Code, e.Position, e.Speed, e.Source, e.Priority)
	case JogCW, JogCCW:
		return fmt.Sprintf("%v speed=%v from %v prio=%v", e.Code, e.Speed, e.Source, e.Priority)
	}
	return fmt.Sprintf("%v from %v prio=%v", e.Code, e.Source, e.Priority)
}

// Limits bound what commands may ask of the motor. Zero values fall back to
// the plant defaults.
type Limits struct {
	// PosAbsMax bounds |position| for MOVE_ABS.
	PosAbsMax int
	// SpeedMax bounds speed for MOVE_ABS and jogs; the minimum is 1.
	SpeedMax int
	// TargetMax bounds counter targets; the minimum is 1.
	TargetMax int
}

// DefaultLimits are the plant limits shared with the legacy masters.
var DefaultLimits = Limits{
	PosAbsMax: 2_000_000_000,
	SpeedMax:  200_000,
	TargetMax: 65535,
}

func (l Limits) withDefaults() Limits {
	out := l
	if out.PosAbsMax == 0 {
		out.PosAbsMax = DefaultLimits.PosAbsMax
	}
	if out.SpeedMax == 0 {
		out.SpeedMax = DefaultLimits.SpeedMax
	}
	if out.TargetMax == 0 {
		out.TargetMax = DefaultLimits.TargetMax
	}
	return out
}

// CheckTarget validates a counter target value.
func (l Limits) CheckTarget(target int) error {
	l = l.withDefaults()
	if target < 1 || target > l.TargetMax {
		return fmt.Errorf("target %v out of range 1..%v", target, l.TargetMax)
	}
	return nil
}

// Validate rejects envelopes that no device operation should ever see:
// unknown codes, positions beyond the rail, zero or excessive speeds.
func (e Envelope) Validate(l Limits) error {
	l = l.withDefaults()
	if !e.Code.Known() {
		return fmt.Errorf("unknown command code %v", int(e.Code))
	}
	switch e.Code {
	case MoveAbs:
		if e.Position < -l.PosAbsMax || e.Position > l.PosAbsMax {
			return fmt.Errorf("%v position %v out of range +/-%v", e.Code, e.Position, l.PosAbsMax)
		}
		if e.Speed < 1 || e.Speed > l.SpeedMax {
			return fmt.Errorf("%v speed %v out of range 1..%v", e.Code, e.Speed, l.SpeedMax)
		}
	case JogCW, JogCCW:
		if e.Speed < 1 || e.Speed > l.SpeedMax {
			return fmt.Errorf("%v speed %v out of range 1..%v", e.Code, e.Speed, l.SpeedMax)
		}
	}
	return nil
}

// PacketLen is the register count of a command packet in holding registers:
// [cmd, pos_hi, pos_lo, speed, source, priority].
const PacketLen = 6

// PackPacket renders an envelope as the 6-register command packet written to
// holding registers 10..15. Speeds wider than 16 bits are clamped, the
// packet cannot carry them.
func PackPacket(e Envelope) []int {
	hi, lo := modbus.S32ToRegs(e.Position)
	speed := e.Speed
	if speed > 65535 {
		speed = 65535
	}
	if speed < 0 {
		speed = 0
	}
	prio := e.Priority
	if prio < 0 || prio > 65535 {
		prio = 0
	}
	return []int{int(e.Code), hi, lo, speed, int(e.Source), prio}
}

// DecodePacket parses the 6-register command packet. A zero cmd register
// means "no command pending" and is reported via ok=false. Sources other
// than the supervisor and operator codes collapse to Local with priority 1,
// unknown priorities clamp into 1..3.
func DecodePacket(regs []int, at time.Time) (Envelope, bool, error) {
	if len(regs) < PacketLen {
		return Envelope{}, false, fmt.Errorf("command packet needs %v registers, got %v", PacketLen, len(regs))
	}
	cmd := regs[0]
	if cmd == 0 {
		return Envelope{}, false, nil
	}
	e := Envelope{
		Code:     Code(cmd),
		Position: modbus.RegsToS32(regs[1]&0xFFFF, regs[2]&0xFFFF),
		Speed:    regs[3] & 0xFFFF,
		At:       at,
	}
	switch Source(regs[4]) {
	case SourceSupervisor:
		e.Source = SourceSupervisor
	case SourceOperator:
		e.Source = SourceOperator
	default:
		e.Source = SourceLocal
	}
	e.Priority = regs[5]
	if e.Source == SourceLocal {
		e.Priority = PriorityLocal
	} else if e.Priority < 1 || e.Priority > 3 {
		if e.Source == SourceSupervisor {
			e.Priority = PrioritySupervisor
		} else {
			e.Priority = PriorityOperator
		}
	}
	return e, true, nil
}
