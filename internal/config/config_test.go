package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, RoleField, cfg.Role)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, "E", cfg.Serial.Parity)
	assert.Equal(t, 1, cfg.Serial.StopBits)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, RTUSettings{SlaveSensor: 1, SlaveDriver: 2, SlaveCounter: 3}, cfg.RTU)
	assert.Equal(t, 300*time.Millisecond, cfg.Poll.Device)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.Supervisor)
	assert.True(t, cfg.Auto.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.Auto.Tick)
	assert.Equal(t, 5000, cfg.Auto.MovePulses)
	assert.Equal(t, 8000, cfg.Auto.MoveSpeed)
	assert.Equal(t, 10*time.Second, cfg.Auto.MotorTimeout)
	assert.Equal(t, TCPSettings{Bind: "0.0.0.0", ModbusPort: 502, JSONPort: 5002}, cfg.TCP)
	assert.Equal(t, LimitSettings{PosAbsMax: 2_000_000_000, SpeedMax: 200_000, TargetMax: 65535}, cfg.Limits)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "fieldgate/status", cfg.MQTT.Topic)
	assert.Equal(t, 1, cfg.MQTT.QoS)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err, "a missing default config file is not an error")
	assert.Equal(t, RoleField, cfg.Role)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
role: supervisor
log:
  level: debug
  format: console
serial:
  port: /dev/ttyUSB0
  baud: 19200
  parity: n
  stopbits: 2
  read_timeout_ms: 250
rtu:
  slave_driver: 9
poll:
  device_ms: 150
auto:
  enabled: false
  motor_timeout_s: 5
tcp:
  modbus_port: 1502
  json_port: 15002
supervisor:
  host: 10.0.0.5
  port: 1502
  unit: 3
limits:
  target_max: 500
mqtt:
  enabled: true
  broker: tcp://127.0.0.1:1883
`))
	require.NoError(t, err)

	assert.Equal(t, RoleSupervisor, cfg.Role)
	assert.Equal(t, LogSettings{Level: "debug", Format: "console"}, cfg.Log)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 19200, cfg.Serial.Baud)
	assert.Equal(t, "N", cfg.Serial.Parity, "parity is folded to upper case")
	assert.Equal(t, 2, cfg.Serial.StopBits)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 9, cfg.RTU.SlaveDriver)
	assert.Equal(t, 1, cfg.RTU.SlaveSensor, "unnamed keys keep their defaults")
	assert.Equal(t, 150*time.Millisecond, cfg.Poll.Device)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.Supervisor)
	assert.False(t, cfg.Auto.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Auto.MotorTimeout)
	assert.Equal(t, 5000, cfg.Auto.MovePulses)
	assert.Equal(t, TCPSettings{Bind: "0.0.0.0", ModbusPort: 1502, JSONPort: 15002}, cfg.TCP)
	assert.Equal(t, SupervisorSettings{Host: "10.0.0.5", Port: 1502, Unit: 3}, cfg.Supervisor)
	assert.Equal(t, 500, cfg.Limits.TargetMax)
	assert.Equal(t, 2_000_000_000, cfg.Limits.PosAbsMax)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://127.0.0.1:1883", cfg.MQTT.Broker)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIELDGATE_LOG_LEVEL", "warn")
	t.Setenv("FIELDGATE_TCP_JSON_PORT", "6002")
	t.Setenv("FIELDGATE_RTU_SLAVE_COUNTER", "7")

	cfg, err := Load(writeConfig(t, "role: field\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 6002, cfg.TCP.JSONPort)
	assert.Equal(t, 7, cfg.RTU.SlaveCounter)
}

func TestExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "role: [unclosed\n"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad role", "role: gateway\n", "role must be"},
		{"supervisor without host", "role: supervisor\n", "supervisor.host"},
		{"bad parity", "serial:\n  parity: X\n", "serial.parity"},
		{"modbus port zero", "tcp:\n  modbus_port: 0\n", "tcp.modbus_port"},
		{"json port too big", "tcp:\n  json_port: 70000\n", "tcp.json_port"},
		{"mqtt without broker", "mqtt:\n  enabled: true\n", "mqtt.broker"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestWatchWithoutFileIsNoop(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Watch(zap.NewNop().Sugar(), func(string) error { return nil })
}
