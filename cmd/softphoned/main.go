package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/cloudconnect/internal/api"
	"github.com/sweeney/cloudconnect/internal/backend"
	"github.com/sweeney/cloudconnect/internal/callstate"
	"github.com/sweeney/cloudconnect/internal/clock"
	"github.com/sweeney/cloudconnect/internal/config"
	"github.com/sweeney/cloudconnect/internal/logger"
	"github.com/sweeney/cloudconnect/internal/metrics"
	"github.com/sweeney/cloudconnect/internal/outcome"
	"github.com/sweeney/cloudconnect/internal/pbxfeed"
	"github.com/sweeney/cloudconnect/internal/publisher"
	"github.com/sweeney/cloudconnect/internal/simulator"
)

// directoryRefresh is how often the customer directory is reloaded.
const directoryRefresh = 5 * time.Minute

func main() {
	configPath := flag.String("config", "/etc/cloudconnect/softphoned.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("softphoned failed")
	}

	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	var client *backend.Client
	if cfg.Backend.URL != "" {
		client = backend.New(cfg.Backend.URL,
			backend.WithTimeout(cfg.Backend.Timeout),
			backend.WithLogger(log.With().Str("component", "backend").Logger()))
		if cfg.Backend.Email != "" {
			res, err := client.Login(ctx, cfg.Backend.Email, cfg.Backend.Password)
			if err != nil {
				return err
			}
			log.Info().Str("user", res.User.Name).Str("role", string(res.User.Role)).Msg("logged in to backend")
		}
	}

	var sipSource SIPConfigSource
	if client != nil && client.Authenticated() {
		sipSource = client
	}
	reg, ext, secret, err := resolveLine(ctx, cfg, sipSource)
	if err != nil {
		return err
	}

	collector := metrics.New()

	var directory *outcome.Directory
	if client != nil && client.Authenticated() {
		directory = outcome.NewDirectory(client)
		if err := directory.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("loading customer directory")
		}
	}

	var feed *pbxfeed.Feed
	opts := []callstate.Option{
		callstate.WithScheduler(clock.Real{}),
		callstate.WithDelays(cfg.Softphone.ConnectDelay, cfg.Softphone.RingDelay, cfg.Softphone.TeardownDelay),
		callstate.WithRefreshInterval(cfg.Softphone.RefreshInterval),
		callstate.WithLogger(log.With().Str("component", "softphone").Logger()),
	}
	switch cfg.Roster.Source {
	case config.RosterSimulator:
		sim := cfg.Roster.Simulator
		opts = append(opts, callstate.WithRosterSource(simulator.New(simulator.Options{
			MaxCalls:         sim.MaxCalls,
			StartProbability: sim.StartProbability,
			EndProbability:   sim.EndProbability,
			Seed:             sim.Seed,
		})))
	case config.RosterAMI:
		feed = pbxfeed.New(pbxfeed.WithLocalExtension(ext))
		opts = append(opts, callstate.WithRosterSource(feed))
	}
	if directory != nil {
		opts = append(opts, callstate.WithNameResolver(directory))
	}

	coord := callstate.New(opts...)
	defer coord.Close()
	defer collector.Attach(coord)()

	if ext != "" {
		coord.Register(reg, ext, secret)
	} else {
		log.Warn().Msg("no SIP line configured, dialing disabled until registered over the api")
	}

	var bridge *publisher.Bridge
	if cfg.MQTT.Enabled {
		b, stop, err := startBridge(ctx, cfg, coord, log)
		if err != nil {
			return err
		}
		defer stop()
		bridge = b
	}

	if directory != nil {
		rec := outcome.NewRecorder(coord, directory, client,
			outcome.WithCounter(collector),
			outcome.WithLogger(log.With().Str("component", "outcome").Logger()))
		defer rec.Attach()()
		go rec.Run(ctx)
		go refreshDirectory(ctx, directory, log)
	}

	if feed != nil {
		go runAMI(ctx, cfg, feed, coord, bridge, log.With().Str("component", "ami").Logger())
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: api.New(coord,
			api.WithLogger(log.With().Str("component", "http").Logger()),
			api.WithMetrics(collector.Handler(), collector),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.HTTP.Listen).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func startBridge(ctx context.Context, cfg *config.Config, coord *callstate.Coordinator, log zerolog.Logger) (*publisher.Bridge, func(), error) {
	mqttLog := log.With().Str("component", "mqtt").Logger()
	availability := cfg.MQTT.TopicPrefix + "/softphone/availability"

	pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
		Broker:            cfg.MQTT.Broker,
		ClientID:          cfg.MQTT.ClientID,
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		QoS:               cfg.MQTT.QoS,
		AvailabilityTopic: availability,
		Logger:            mqttLog,
	})
	if err != nil {
		return nil, nil, err
	}

	bridge := publisher.NewBridge(pub, cfg.MQTT.TopicPrefix, publisher.WithBridgeLogger(mqttLog))
	detach := bridge.Attach(coord)
	go bridge.Run(ctx)

	return bridge, func() {
		detach()
		pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := pub.Publish(pubCtx, availability, []byte(publisher.Offline), true); err != nil {
			mqttLog.Warn().Err(err).Msg("publishing offline status")
		}
		pub.Close()
	}, nil
}

func refreshDirectory(ctx context.Context, d *outcome.Directory, log zerolog.Logger) {
	ticker := time.NewTicker(directoryRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("refreshing customer directory")
				continue
			}
			log.Debug().Int("customers", d.Len()).Msg("customer directory refreshed")
		}
	}
}
