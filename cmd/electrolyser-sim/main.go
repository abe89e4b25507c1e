// Electrolyser Core - telemetry simulator
//
// electrolyser-sim stands in for the WinCC gateway during development. It
// publishes a full set of tag readings for each simulated electrolyser to
// WinCC/AEM_SYS/<tag> every interval, in the gateway's JSON shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/clock"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/logging"
	"github.com/nerrad567/electrolyser-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the parsed command line flags.
type options struct {
	host     string
	port     int
	username string
	password string
	clientID string
	qos      int
	devices  int
	interval time.Duration
	rounds   int
	seed     uint64
	logLevel string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("electrolyser-sim", pflag.ContinueOnError)
	fs.StringVar(&opts.host, "broker", "localhost", "MQTT broker host")
	fs.IntVar(&opts.port, "port", 1883, "MQTT broker port")
	fs.StringVar(&opts.username, "username", "", "MQTT username")
	fs.StringVar(&opts.password, "password", "", "MQTT password")
	fs.StringVar(&opts.clientID, "client-id", "electrolyser_sim", "MQTT client id prefix")
	fs.IntVar(&opts.qos, "qos", 0, "publish QoS (0, 1 or 2)")
	fs.IntVarP(&opts.devices, "devices", "n", telemetry.DefaultMaxDevices, "number of electrolysers to simulate")
	fs.DurationVarP(&opts.interval, "interval", "i", 5*time.Second, "time between rounds")
	fs.IntVar(&opts.rounds, "rounds", 0, "stop after this many rounds (0 runs until interrupted)")
	fs.Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "random seed") //nolint:gosec // non-negative
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.interval <= 0 {
		return options{}, errors.New("--interval must be positive")
	}
	if opts.qos < 0 || opts.qos > 2 {
		return options{}, errors.New("--qos must be 0, 1, or 2")
	}
	if opts.rounds < 0 {
		return options{}, errors.New("--rounds must not be negative")
	}
	return opts, nil
}

// mqttConfig maps the flags onto the shared broker settings.
func (o options) mqttConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:         o.host,
			Port:         o.port,
			ClientID:     o.clientID,
			RandomSuffix: true,
		},
		Auth: config.MQTTAuthConfig{Username: o.username, Password: o.password},
		QoS:  o.qos,
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	log := logging.NewWithWriter(stdout, config.LoggingConfig{Level: opts.logLevel, Format: "text"}, version)

	gen, err := newGenerator(telemetry.NewCatalog(telemetry.DefaultMaxDevices), opts.devices, opts.seed)
	if err != nil {
		return err
	}

	cfg := opts.mqttConfig()
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", mqtt.BrokerURL(cfg), err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	client.SetLogger(log)

	log.Info("simulator connected",
		"broker", cfg.Address(),
		"client_id", client.ClientID(),
		"devices", opts.devices,
		"interval", opts.interval,
	)

	sim := &simulator{
		pub:   client,
		gen:   gen,
		qos:   byte(opts.qos),
		clock: clock.Real(),
		log:   log,
	}
	return sim.loop(ctx, opts.interval, opts.rounds)
}
