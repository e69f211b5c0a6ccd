// Package config loads process configuration: YAML file, FIELDGATE_*
// environment overrides, and defaults that yield a runnable field
// controller when no file exists at all.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Roles the process can assume.
const (
	RoleField      = "field"
	RoleSupervisor = "supervisor"
)

type LogSettings struct {
	Level  string
	Format string
}

type SerialSettings struct {
	Port        string
	Baud        int
	Parity      string
	StopBits    int
	DataBits    int
	ReadTimeout time.Duration
}

type RTUSettings struct {
	SlaveSensor  int
	SlaveDriver  int
	SlaveCounter int
}

type PollSettings struct {
	Device     time.Duration
	Supervisor time.Duration
}

type AutoSettings struct {
	Enabled      bool
	Tick         time.Duration
	MovePulses   int
	MoveSpeed    int
	MotorTimeout time.Duration
}

type TCPSettings struct {
	Bind       string
	ModbusPort int
	JSONPort   int
}

type SupervisorSettings struct {
	Host string
	Port int
	Unit int
}

type LimitSettings struct {
	PosAbsMax int
	SpeedMax  int
	TargetMax int
}

type MQTTSettings struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      int
}

// Settings is the value view of the configuration, comparable so the
// watcher can tell hot keys from restart-only ones.
type Settings struct {
	Role       string
	Log        LogSettings
	Serial     SerialSettings
	RTU        RTUSettings
	Poll       PollSettings
	Auto       AutoSettings
	TCP        TCPSettings
	Supervisor SupervisorSettings
	Limits     LimitSettings
	MQTT       MQTTSettings
}

// Config is the loaded configuration plus the viper instance backing it.
type Config struct {
	Settings
	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("role", RoleField)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 9600)
	v.SetDefault("serial.parity", "E")
	v.SetDefault("serial.stopbits", 1)
	v.SetDefault("serial.databits", 8)
	v.SetDefault("serial.read_timeout_ms", 1000)
	v.SetDefault("rtu.slave_sensor", 1)
	v.SetDefault("rtu.slave_driver", 2)
	v.SetDefault("rtu.slave_counter", 3)
	v.SetDefault("poll.device_ms", 300)
	v.SetDefault("poll.supervisor_ms", 500)
	v.SetDefault("auto.enabled", true)
	v.SetDefault("auto.tick_ms", 200)
	v.SetDefault("auto.move_pulses", 5000)
	v.SetDefault("auto.move_speed", 8000)
	v.SetDefault("auto.motor_timeout_s", 10)
	v.SetDefault("tcp.bind", "0.0.0.0")
	v.SetDefault("tcp.modbus_port", 502)
	v.SetDefault("tcp.json_port", 5002)
	v.SetDefault("supervisor.host", "")
	v.SetDefault("supervisor.port", 502)
	v.SetDefault("supervisor.unit", 1)
	v.SetDefault("limits.pos_abs_max", 2_000_000_000)
	v.SetDefault("limits.speed_max", 200_000)
	v.SetDefault("limits.target_max", 65535)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "fieldgate/status")
	v.SetDefault("mqtt.qos", 1)
}

func read(v *viper.Viper) Settings {
	return Settings{
		Role: v.GetString("role"),
		Log: LogSettings{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Serial: SerialSettings{
			Port:        v.GetString("serial.port"),
			Baud:        v.GetInt("serial.baud"),
			Parity:      strings.ToUpper(v.GetString("serial.parity")),
			StopBits:    v.GetInt("serial.stopbits"),
			DataBits:    v.GetInt("serial.databits"),
			ReadTimeout: time.Duration(v.GetInt("serial.read_timeout_ms")) * time.Millisecond,
		},
		RTU: RTUSettings{
			SlaveSensor:  v.GetInt("rtu.slave_sensor"),
			SlaveDriver:  v.GetInt("rtu.slave_driver"),
			SlaveCounter: v.GetInt("rtu.slave_counter"),
		},
		Poll: PollSettings{
			Device:     time.Duration(v.GetInt("poll.device_ms")) * time.Millisecond,
			Supervisor: time.Duration(v.GetInt("poll.supervisor_ms")) * time.Millisecond,
		},
		Auto: AutoSettings{
			Enabled:      v.GetBool("auto.enabled"),
			Tick:         time.Duration(v.GetInt("auto.tick_ms")) * time.Millisecond,
			MovePulses:   v.GetInt("auto.move_pulses"),
			MoveSpeed:    v.GetInt("auto.move_speed"),
			MotorTimeout: time.Duration(v.GetInt("auto.motor_timeout_s")) * time.Second,
		},
		TCP: TCPSettings{
			Bind:       v.GetString("tcp.bind"),
			ModbusPort: v.GetInt("tcp.modbus_port"),
			JSONPort:   v.GetInt("tcp.json_port"),
		},
		Supervisor: SupervisorSettings{
			Host: v.GetString("supervisor.host"),
			Port: v.GetInt("supervisor.port"),
			Unit: v.GetInt("supervisor.unit"),
		},
		Limits: LimitSettings{
			PosAbsMax: v.GetInt("limits.pos_abs_max"),
			SpeedMax:  v.GetInt("limits.speed_max"),
			TargetMax: v.GetInt("limits.target_max"),
		},
		MQTT: MQTTSettings{
			Enabled:  v.GetBool("mqtt.enabled"),
			Broker:   v.GetString("mqtt.broker"),
			ClientID: v.GetString("mqtt.client_id"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
			Topic:    v.GetString("mqtt.topic"),
			QoS:      v.GetInt("mqtt.qos"),
		},
	}
}

// Load reads configuration from the given file, or from ./fieldgate.yaml
// and /etc/fieldgate/fieldgate.yaml when path is empty. A missing file is
// only an error when explicitly named.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FIELDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("fieldgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fieldgate")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	cfg := &Config{Settings: read(v), v: v}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Role != RoleField && c.Role != RoleSupervisor {
		return fmt.Errorf("role must be %q or %q, not %q", RoleField, RoleSupervisor, c.Role)
	}
	if c.Role == RoleSupervisor && c.Supervisor.Host == "" {
		return errors.New("supervisor role needs supervisor.host")
	}
	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("serial.parity must be N, E or O, not %q", c.Serial.Parity)
	}
	for key, port := range map[string]int{
		"tcp.modbus_port": c.TCP.ModbusPort,
		"tcp.json_port":   c.TCP.JSONPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%v must be 1..65535, not %v", key, port)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.enabled needs mqtt.broker")
	}
	return nil
}

// Watch re-reads the file on change. The log level is applied immediately
// through applyLevel; any other changed key just warns that it applies on
// the next restart. No-op when no config file is in use.
func (c *Config) Watch(log *zap.SugaredLogger, applyLevel func(level string) error) {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	last := c.Settings
	c.v.OnConfigChange(func(_ fsnotify.Event) {
		fresh := read(c.v)
		if fresh == last {
			return
		}
		if fresh.Log.Level != last.Log.Level {
			if err := applyLevel(fresh.Log.Level); err != nil {
				log.Warnf("Ignoring bad log.level %q: %v", fresh.Log.Level, err)
				fresh.Log.Level = last.Log.Level
			} else {
				log.Infof("Log level now %v", fresh.Log.Level)
			}
		}
		rest := fresh
		rest.Log.Level = last.Log.Level
		if rest != last {
			log.Warnf("Configuration file changed; keys other than log.level apply on restart")
		}
		last = fresh
	})
	c.v.WatchConfig()
}
