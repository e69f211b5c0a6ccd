// Package regmap pins down the register interface between the field
// controller and its masters: which holding registers accept writes, how a
// snapshot is laid out across input registers 0..11, and how to read it
// back. Both tiers of the gateway use this one layout, so the supervisor's
// parse is the exact inverse of the field controller's pack.
package regmap

import (
	"fmt"

	"github.com/fieldgate/fieldgate/internal/telemetry"
	"github.com/fieldgate/fieldgate/modbus"
)

// Holding register addresses written by masters.
const (
	// HRTarget is the counter target (1..65535, 0 = unset).
	HRTarget = 0
	// HRMode selects AUTO (0) or MANUAL (1).
	HRMode = 8
	// HRCommand is the first register of the 6-register command packet
	// [cmd, pos_hi, pos_lo, speed, source, priority]. Writing a non-zero
	// cmd submits the packet; the controller zeroes it after consumption.
	HRCommand = 10
)

// Input register layout, the snapshot as masters see it.
const (
	IRPosHi         = 0
	IRPosLo         = 1
	IRSpeed         = 2
	IRTemperature   = 3
	IRHumidity      = 4
	IRStatus        = 5
	IRCounterValue  = 6
	IRCounterTarget = 7
	IRAutoState     = 8
	IRMode          = 9
	IRStepEnabled   = 10
	IRJogState      = 11

	// IRCount is how many input registers carry snapshot data.
	IRCount = 12
)

// Register bank sizes, kept at the legacy sizes so old masters that read
// wide ranges keep working.
const (
	HRSize = 100
	IRSize = 32
)

// Status word bits in IRStatus.
const (
	StatusAlarm      = 1 << 0
	StatusInPosition = 1 << 1
	StatusRunning    = 1 << 2
)

func clampWord(v int) int {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return v
}

// PackInputs renders a snapshot as input registers 0..11. Values that do
// not fit their register are clamped, not wrapped, except temperature which
// keeps its two's-complement encoding.
func PackInputs(s telemetry.Snapshot) []int {
	posHi, posLo := modbus.S32ToRegs(s.Position)

	temp := s.TemperatureX10
	if temp < -32768 {
		temp = -32768
	}
	if temp > 32767 {
		temp = 32767
	}

	status := 0
	if s.Alarm {
		status |= StatusAlarm
	}
	if s.InPosition {
		status |= StatusInPosition
	}
	if s.Running {
		status |= StatusRunning
	}

	step := 0
	if s.StepEnabled {
		step = 1
	}

	return []int{
		posHi,
		posLo,
		clampWord(s.Speed),
		temp & 0xFFFF,
		clampWord(s.HumidityX10),
		status,
		clampWord(s.CounterValue),
		clampWord(s.CounterTarget),
		int(s.AutoState),
		int(s.Mode),
		step,
		clampWord(s.JogState),
	}
}

// ParseInputs rebuilds a snapshot from input registers 0..11. Online flags
// and the timestamp are the caller's business: registers do not carry them.
func ParseInputs(regs []int) (telemetry.Snapshot, error) {
	if len(regs) < IRCount {
		return telemetry.Snapshot{}, fmt.Errorf("snapshot needs %v input registers, got %v", IRCount, len(regs))
	}
	temp := regs[IRTemperature] & 0xFFFF
	if temp > 32767 {
		temp -= 65536
	}
	status := regs[IRStatus]
	return telemetry.Snapshot{
		Position:       modbus.RegsToS32(regs[IRPosHi]&0xFFFF, regs[IRPosLo]&0xFFFF),
		Speed:          regs[IRSpeed] & 0xFFFF,
		TemperatureX10: temp,
		HumidityX10:    regs[IRHumidity] & 0xFFFF,
		Alarm:          status&StatusAlarm != 0,
		InPosition:     status&StatusInPosition != 0,
		Running:        status&StatusRunning != 0,
		CounterValue:   regs[IRCounterValue] & 0xFFFF,
		CounterTarget:  regs[IRCounterTarget] & 0xFFFF,
		CounterDone:    regs[IRCounterValue] >= regs[IRCounterTarget] && regs[IRCounterTarget] > 0,
		AutoState:      telemetry.AutoState(regs[IRAutoState]),
		Mode:           telemetry.Mode(regs[IRMode]),
		StepEnabled:    regs[IRStepEnabled] != 0,
		JogState:       regs[IRJogState],
	}, nil
}
