package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/laps.report/internal/api"
	"github.com/banshee-data/laps.report/internal/config"
	"github.com/banshee-data/laps.report/internal/control"
	"github.com/banshee-data/laps.report/internal/db"
	"github.com/banshee-data/laps.report/internal/fsutil"
	"github.com/banshee-data/laps.report/internal/journal"
	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/report"
	"github.com/banshee-data/laps.report/internal/roster"
	"github.com/banshee-data/laps.report/internal/serialmux"
	"github.com/banshee-data/laps.report/internal/timeutil"
	"github.com/banshee-data/laps.report/internal/vision"
	"github.com/banshee-data/laps.report/internal/vision/zmqsource"
)

func sessionConfig(cfg *config.Config) race.SessionConfig {
	return race.SessionConfig{
		ConfirmationFrames:  cfg.GetConfirmationFrames(),
		MinLapDuration:      cfg.GetMinLapDuration(),
		StopWindow:          cfg.GetStopWindow(),
		StartCommand:        cfg.GetStartCommand(),
		RaceName:            cfg.GetRaceName(),
		FinishOnEndOfStream: cfg.GetFinishOnEndOfStream(),
	}
}

// openSerial opens the detector port, or a mock port replaying replay_path in
// dev mode, and starts monitoring it.
func openSerial(ctx context.Context, wg *sync.WaitGroup, fsys fsutil.FileSystem, cfg *config.Config) (serialmux.Link, error) {
	var mux serialmux.Link
	if *devMode {
		data, err := fsys.ReadFile(cfg.GetReplayPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open fixtures file: %w", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		mux = serialmux.NewReplayMux(lines, cfg.GetReplayFrameInterval(), false)
	} else {
		m, err := serialmux.Open(cfg.GetSerialPort(), cfg.GetSerialOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open detector port: %w", err)
		}
		mux = m
	}
	if err := mux.Initialize(); err != nil {
		mux.Close()
		return nil, fmt.Errorf("failed to initialize detector: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("failed to monitor serial port: %v", err)
		}
		monitoring.Logf("monitor routine terminated")
	}()
	return mux, nil
}

// openSource opens the configured vision source. Replay offsets count from
// raceStart.
func openSource(ctx context.Context, fsys fsutil.FileSystem, cfg *config.Config, mux serialmux.Link, raceStart time.Time) (race.ObservationSource, func() error, error) {
	switch cfg.GetVisionSource() {
	case config.SourceSerial:
		src := vision.NewLineSource(mux, timeutil.SystemClock{})
		return src, src.Close, nil
	case config.SourceZMQ:
		src, err := zmqsource.Dial(ctx, cfg.GetZMQEndpoint())
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		src, err := vision.OpenReplay(fsys, cfg.GetReplayPath(), raceStart)
		if err != nil {
			return nil, nil, err
		}
		src.SetPace(cfg.GetReplayFrameInterval())
		return src, src.Close, nil
	}
}

// waitForStart reads keypad lines until one starts the session. A fixed
// command from -start skips the keypad.
func waitForStart(ctx context.Context, keypad *control.Keypad, s *race.Session, fixed string) error {
	if fixed != "" {
		return s.Start(ctx, fixed)
	}
	monitoring.Logf("type %q and press enter to start the race", s.Config().StartCommand)

	done := make(chan error, 1)
	go func() {
		for {
			cmd, err := keypad.ReadStart()
			if err != nil {
				done <- err
				return
			}
			err = s.Start(ctx, cmd)
			if errors.Is(err, race.ErrUnknownCommand) {
				monitoring.Logf("unknown command %q", cmd)
				continue
			}
			done <- err
			return
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runStation(ctx context.Context, fsys fsutil.FileSystem, cfg *config.Config) error {
	rost, err := roster.LoadCSV(fsys, cfg.GetRosterPath())
	if err != nil {
		return fmt.Errorf("failed to load roster: %w", err)
	}
	monitoring.Logf("loaded %d competitors from %s", rost.Len(), cfg.GetRosterPath())

	writer, err := report.NewWriter(fsys, cfg.GetSnapshotDir(), cfg.GetLapReportDir(), cfg.GetTimezone())
	if err != nil {
		return err
	}
	var reports race.Publisher = writer
	if cfg.GetAsyncReports() {
		queue := report.NewQueue(writer, cfg.GetReportQueueSize())
		defer func() {
			queue.Close()
			monitoring.Logf("report queue drained: %d written, %d failed", queue.Processed(), queue.Failed())
		}()
		reports = queue
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	jr, err := journal.Open(cfg.GetJournalDir())
	if err != nil {
		return err
	}
	defer jr.Close()

	hub := api.NewHub(api.DefaultBroadcastBuffer)
	latch := &control.StopLatch{Window: cfg.GetStopWindow()}

	// Wait for the monitor, hub and HTTP routines before the stores close.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mux serialmux.Link
	if cfg.GetVisionSource() == config.SourceSerial {
		if mux, err = openSerial(ctx, &wg, fsys, cfg); err != nil {
			return err
		}
		defer mux.Close()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	if *listen != "" {
		httpMux := http.NewServeMux()
		httpMux.Handle("/", api.NewServer(hub, latch, database, jr).Router())
		if err := database.AttachAdminRoutes(httpMux); err != nil {
			return err
		}
		if mux != nil {
			mux.AttachAdminRoutes(httpMux)
		}
		server := &http.Server{
			Addr:              *listen,
			Handler:           httpMux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					monitoring.Logf("HTTP server failed: %v", err)
					cancel()
				}
			}()
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("HTTP server shutdown error: %v", err)
			}
			monitoring.Logf("HTTP server routine stopped")
		}()
		monitoring.Logf("serving race API on %s", *listen)
	}

	publisher := race.MultiPublisher{reports, database, jr, hub}
	session := race.NewSession(sessionConfig(cfg), rost, publisher, timeutil.SystemClock{})

	keypad := control.NewKeypad(os.Stdin, latch)
	if err := waitForStart(ctx, keypad, session, *startCommand); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("race did not start: %w", err)
	}
	go func() {
		if err := keypad.Run(ctx); err != nil {
			monitoring.Logf("%v", err)
		}
	}()

	src, closeSrc, err := openSource(ctx, fsys, cfg, mux, session.RaceStart())
	if err != nil {
		_ = session.Finish(ctx)
		return fmt.Errorf("failed to open vision source: %w", err)
	}
	defer closeSrc()

	runErr := session.Run(ctx, src, latch)
	if mux != nil {
		monitoring.Logf("detector link: %d lines dropped by slow readers", mux.Dropped())
	}
	st := session.Stats()
	monitoring.Logf("race %s %s after %d frames: %d accepted, %d rejected, %d unrecognized, %d publish errors",
		session.RaceID(), session.State(), st.Frames,
		st.Decisions.Accepted, st.Decisions.Rejected, st.Decisions.Unrecognized, st.PublishErrors)
	return runErr
}
