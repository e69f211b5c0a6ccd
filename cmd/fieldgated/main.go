// fieldgated is the gateway daemon. Run as a field controller it owns the
// serial bus, the AUTO cycle and both TCP fronts; run as a supervisor it
// relays a remote field controller instead.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/config"
	"github.com/fieldgate/fieldgate/internal/logging"
	"github.com/fieldgate/fieldgate/modbus"
)

const drainTimeout = 2 * time.Second

type options struct {
	Config  string `short:"c" long:"config" description:"Configuration file (YAML)"`
	Role    string `long:"role" choice:"field" choice:"supervisor" description:"Override the configured role"`
	Verbose bool   `short:"v" long:"verbose" description:"Console logging at debug level"`
}

func main() {
	opts := options{}

	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

	_, err := parser.Parse()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	if opts.Role != "" {
		cfg.Role = opts.Role
	}
	if cfg.Role == config.RoleSupervisor && cfg.Supervisor.Host == "" {
		return fmt.Errorf("supervisor role needs supervisor.host")
	}

	logger, level, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: opts.Verbose,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()
	modbus.SetLogger(log)

	cfg.Watch(log, func(lvl string) error {
		return logging.SetLevel(level, lvl)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("fieldgated starting, role %v", cfg.Role)

	switch cfg.Role {
	case config.RoleField:
		return runField(ctx, cfg, log)
	default:
		return runSupervisor(ctx, cfg, log)
	}
}

// drain waits for the task group to finish, but not past drainTimeout.
func drain(wg *sync.WaitGroup, log *zap.SugaredLogger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Warnf("Tasks did not drain within %v, closing anyway", drainTimeout)
	}
}
