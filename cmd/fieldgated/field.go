package main

import (
	"context"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/command"
	"github.com/fieldgate/fieldgate/internal/config"
	"github.com/fieldgate/fieldgate/internal/field"
	"github.com/fieldgate/fieldgate/internal/jsonapi"
	"github.com/fieldgate/fieldgate/internal/statuspub"
	"github.com/fieldgate/fieldgate/modbus"
)

func limitsOf(cfg *config.Config) command.Limits {
	return command.Limits{
		PosAbsMax: cfg.Limits.PosAbsMax,
		SpeedMax:  cfg.Limits.SpeedMax,
		TargetMax: cfg.Limits.TargetMax,
	}
}

func runField(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	serial, err := modbus.NewRTU(modbus.RTUConfig{
		Device:      cfg.Serial.Port,
		Baud:        cfg.Serial.Baud,
		DataBits:    cfg.Serial.DataBits,
		Parity:      cfg.Serial.Parity,
		StopBits:    cfg.Serial.StopBits,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
	if err != nil {
		return err
	}
	defer serial.Close()

	ctrl := field.NewController(serial, field.Config{
		Units: field.DeviceUnits{
			Sensor:  cfg.RTU.SlaveSensor,
			Driver:  cfg.RTU.SlaveDriver,
			Counter: cfg.RTU.SlaveCounter,
		},
		Timeout:   cfg.Serial.ReadTimeout,
		PollEvery: cfg.Poll.Device,
		Limits:    limitsOf(cfg),
		Engine: field.EngineTuning{
			Tick:         cfg.Auto.Tick,
			MovePulses:   cfg.Auto.MovePulses,
			MoveSpeed:    cfg.Auto.MoveSpeed,
			MotorTimeout: cfg.Auto.MotorTimeout,
			Enabled:      cfg.Auto.Enabled,
		},
	}, log)

	mbSrv, err := modbus.NewTCPServer(
		net.JoinHostPort(cfg.TCP.Bind, strconv.Itoa(cfg.TCP.ModbusPort)),
		ctrl.Image().Server(),
	)
	if err != nil {
		return err
	}
	defer mbSrv.Close()
	log.Infof("Modbus TCP server listening on %v", mbSrv.Addr())

	jsonSrv, err := jsonapi.NewServer(
		net.JoinHostPort(cfg.TCP.Bind, strconv.Itoa(cfg.TCP.JSONPort)),
		ctrl.Router(), ctrl.Bus(), log,
	)
	if err != nil {
		return err
	}
	defer jsonSrv.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctrl.Run(ctx)
	}()
	if cfg.MQTT.Enabled {
		pub := statuspub.NewPublisher(statuspub.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, ctrl.Bus(), log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx)
		}()
	}

	<-ctx.Done()
	log.Infof("Shutting down")
	drain(&wg, log)

	d := serial.Diagnostics()
	log.Infof("Serial bus totals: %v messages, %v comm errors, %v exceptions, %v overruns",
		d.Messages, d.CommErrors, d.Exceptions, d.Overruns)
	return nil
}
