// Package telemetry holds the device snapshot that flows through the
// gateway, the controller state enums mirrored into it, and the pub/sub bus
// every consumer (input register mirror, JSON fan-out, MQTT mirror) hangs
// off.
package telemetry

import "time"

// Mode selects who commands the motor: the cycle engine or an operator.
type Mode int

const (
	// ModeAuto runs the counter-driven cycle engine.
	ModeAuto Mode = 0
	// ModeManual hands control to operator commands.
	ModeManual Mode = 1
)

func (m Mode) String() string {
	if m == ModeManual {
		return "MANUAL"
	}
	return "AUTO"
}

// AutoState is the cycle engine state. The numeric values are the wire codes
// reported in input register 8 and in JSON status objects.
type AutoState int

const (
	StateIdle          AutoState = 0
	StateWaitingCount  AutoState = 1
	StateMotorRunning  AutoState = 2
	StateWaitingReset  AutoState = 3
	StateAlarm         AutoState = 4
	StateTimeoutMotor  AutoState = 5
	StateDisabled      AutoState = 6
	StateWaitingTarget AutoState = 7
	StateManual        AutoState = 8
)

var stateText = map[AutoState]string{
	StateIdle:          "Idle",
	StateWaitingCount:  "Waiting count",
	StateMotorRunning:  "Motor running",
	StateWaitingReset:  "Waiting reset",
	StateAlarm:         "Alarm",
	StateTimeoutMotor:  "Timeout motor",
	StateDisabled:      "Disabled",
	StateWaitingTarget: "Waiting target",
	StateManual:        "Manual",
}

func (s AutoState) String() string {
	if txt, ok := stateText[s]; ok {
		return txt
	}
	return "Unknown"
}

// Jog direction mirror values reported in input register 11.
const (
	JogOff = 0
	JogCW  = 1
	JogCCW = 2
)

// Snapshot is one consistent view of the plant: the three serial devices
// plus the controller state at the moment the devices were polled. On the
// supervisor tier the same type is rebuilt from input registers 0..11.
type Snapshot struct {
	// Position is the motor position in pulses (signed 32-bit range).
	Position int
	// Speed is the last commanded speed in pulses/s, clamped to 16 bits
	// in register form.
	Speed int
	// TemperatureX10 and HumidityX10 are sensor readings in tenths
	// (25.0 C reads as 250).
	TemperatureX10 int
	HumidityX10    int

	// Driver status word bits.
	Alarm      bool
	InPosition bool
	Running    bool

	// Counter channel.
	CounterValue  int
	CounterTarget int
	CounterDone   bool

	// Controller state mirrored alongside device data.
	AutoState   AutoState
	Mode        Mode
	StepEnabled bool
	JogState    int

	// Per-device health, true while the last poll of that device worked.
	SensorOnline  bool
	DriverOnline  bool
	CounterOnline bool

	// Connected reports the upstream link state: always true on the
	// field tier, the Modbus TCP link state on the supervisor tier.
	Connected bool

	// Taken is when the snapshot was assembled.
	Taken time.Time
}

// Temperature returns the sensor reading in degrees C.
func (s Snapshot) Temperature() float64 {
	return float64(s.TemperatureX10) / 10.0
}

// Humidity returns the sensor reading in percent RH.
func (s Snapshot) Humidity() float64 {
	return float64(s.HumidityX10) / 10.0
}

// Status is the JSON status object served to operator clients and mirrored
// to MQTT. Field names are the wire protocol and must not change.
type Status struct {
	Type      string     `json:"type"`
	Timestamp float64    `json:"timestamp"`
	Data      StatusData `json:"data"`
}

// StatusData is the data member of a Status message.
type StatusData struct {
	Position      int     `json:"position"`
	Speed         int     `json:"speed"`
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	DriverAlarm   bool    `json:"driver_alarm"`
	DriverInpos   bool    `json:"driver_inpos"`
	DriverRunning bool    `json:"driver_running"`
	CounterValue  int     `json:"counter_value"`
	CounterTarget int     `json:"counter_target"`
	AutoStateCode int     `json:"auto_state_code"`
	AutoStateText string  `json:"auto_state_text"`
	Mode          int     `json:"mode"`
	StepEnabled   bool    `json:"step_enabled"`
	JogState      int     `json:"jog_state"`
	Connected     bool    `json:"connected"`
}

// NewStatus renders a snapshot as the wire status object.
func NewStatus(s Snapshot) Status {
	ts := s.Taken
	if ts.IsZero() {
		ts = time.Now()
	}
	return Status{
		Type:      "status",
		Timestamp: float64(ts.UnixNano()) / 1e9,
		Data: StatusData{
			Position:      s.Position,
			Speed:         s.Speed,
			Temperature:   s.Temperature(),
			Humidity:      s.Humidity(),
			DriverAlarm:   s.Alarm,
			DriverInpos:   s.InPosition,
			DriverRunning: s.Running,
			CounterValue:  s.CounterValue,
			CounterTarget: s.CounterTarget,
			AutoStateCode: int(s.AutoState),
			AutoStateText: s.AutoState.String(),
			Mode:          int(s.Mode),
			StepEnabled:   s.StepEnabled,
			JogState:      s.JogState,
			Connected:     s.Connected,
		},
	}
}
