package main

import (
	"context"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/config"
	"github.com/fieldgate/fieldgate/internal/jsonapi"
	"github.com/fieldgate/fieldgate/internal/statuspub"
	"github.com/fieldgate/fieldgate/internal/supervisor"
	"github.com/fieldgate/fieldgate/internal/telemetry"
)

func runSupervisor(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	bus := telemetry.NewBus()
	relay := supervisor.NewRelay(supervisor.Config{
		Host:      cfg.Supervisor.Host,
		Port:      cfg.Supervisor.Port,
		Unit:      cfg.Supervisor.Unit,
		PollEvery: cfg.Poll.Supervisor,
		Limits:    limitsOf(cfg),
	}, bus, log)

	jsonSrv, err := jsonapi.NewServer(
		net.JoinHostPort(cfg.TCP.Bind, strconv.Itoa(cfg.TCP.JSONPort)),
		relay, bus, log,
	)
	if err != nil {
		return err
	}
	defer jsonSrv.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	if cfg.MQTT.Enabled {
		pub := statuspub.NewPublisher(statuspub.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, bus, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx)
		}()
	}

	<-ctx.Done()
	log.Infof("Shutting down")
	drain(&wg, log)
	return nil
}
