package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/runmates/runmates/internal/config"
	"github.com/runmates/runmates/internal/geocode"
	"github.com/runmates/runmates/internal/logger"
	"github.com/runmates/runmates/internal/tracker"
)

func main() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	defer logger.Sync()

	log := logger.GetLogger("main")

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	cfg := config.Load()

	positionsPath := flag.String("positions", cfg.Tracker.PositionsPath, "JSON-lines position file to replay ('-' for stdin)")
	place := flag.String("place", "", "free-text place to geocode as the fallback origin")
	loop := flag.Bool("loop", false, "replay the position file in a loop")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutdown signal received, stopping...")
		cancel()
	}()

	opts := tracker.Options{
		PollInterval: cfg.Tracker.PollInterval,
		RadiusKm:     cfg.Tracker.RadiusKm,
		FallbackOrigin: &tracker.Position{
			Lat: cfg.Tracker.FallbackLat,
			Lng: cfg.Tracker.FallbackLng,
		},
	}

	// A named place on the command line overrides the configured
	// fallback origin.
	if *place != "" {
		cache := geocode.NewCache(
			geocode.NewNominatimClient(cfg.Tracker.GeocodeUserAgent),
			geocode.DefaultTTL,
			cfg.Tracker.GeocodeMinInterval,
		)
		coords, err := cache.ResolveOrFetch(ctx, *place)
		if err != nil {
			log.Errorf("Could not geocode %q: %v", *place, err)
			os.Exit(1)
		}
		log.Infof("Resolved %q to lat=%.5f lng=%.5f", *place, coords.Lat, coords.Lng)
		opts.FallbackOrigin = &tracker.Position{Lat: coords.Lat, Lng: coords.Lng}
	}

	source, err := openPositionSource(*positionsPath, *loop)
	if err != nil {
		log.Errorf("Could not open position source: %v", err)
		os.Exit(1)
	}

	api := tracker.NewClient(cfg.Tracker.ServerBaseURL, cfg.Tracker.APIToken)

	tr := tracker.New(api, source, opts)
	if err := tr.Start(ctx); err != nil {
		log.Errorf("Could not start tracking: %v", err)
		os.Exit(1)
	}

	// Report sync status until stopped.
	statusTicker := time.NewTicker(cfg.Tracker.PollInterval)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			tr.Stop()
			log.Info("Tracker stopped")
			return
		case <-statusTicker.C:
			st := tr.Status()
			if st.State == tracker.StateFailed {
				log.Errorf("Position stream failed: %v", st.SensorErr)
				tr.Stop()
				return
			}
			if st.LastPullErr != nil {
				log.Warnf("Can't load nearby runners: %v", st.LastPullErr)
				continue
			}
			log.Infof("Nearby runners: %d (state=%s)", len(st.Nearby), st.State)
		}
	}
}

func openPositionSource(path string, loop bool) (tracker.PositionSource, error) {
	if path == "" || path == "-" {
		return tracker.NewReplaySource(os.Stdin, time.Second, loop), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return tracker.NewReplaySource(f, time.Second, loop), nil
}
