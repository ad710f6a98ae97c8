// Command laptimer runs a lap timing station: it turns marker sightings from
// the vision detector into laps, keeps the live leaderboard and writes the
// race reports.
//
// Usage:
//
//	laptimer [flags]                  run the station
//	laptimer migrate <action>         manage the database schema
//	laptimer stop                     stop the race on a running station
//	laptimer standings [category]     print the live standings
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/banshee-data/laps.report/internal/api"
	"github.com/banshee-data/laps.report/internal/config"
	"github.com/banshee-data/laps.report/internal/db"
	"github.com/banshee-data/laps.report/internal/fsutil"
	"github.com/banshee-data/laps.report/internal/version"
)

var (
	configPath   = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	listen       = flag.String("listen", ":8080", "HTTP listen address; empty disables the API")
	devMode      = flag.Bool("dev", false, "Serial source replays replay_path through a mock port")
	startCommand = flag.String("start", "", "Start the race with this command instead of waiting for the keypad")
	stationURL   = flag.String("station", "http://localhost:8080", "Station URL used by the stop and standings commands")
	versionFlag  = flag.Bool("version", false, "Print version information and exit")

	// Overrides for configuration values.
	_ = flag.String("roster", "", "Roster CSV (overrides roster_path)")
	_ = flag.String("race", "", "Race name (overrides race_name)")
	_ = flag.String("source", "", "Vision source: replay, serial or zmq (overrides vision_source)")
	_ = flag.String("replay", "", "Replay file (overrides replay_path)")
	_ = flag.String("port", "", "Detector serial port (overrides serial_port)")
	_ = flag.String("zmq", "", "Detector ZeroMQ endpoint (overrides zmq_endpoint)")
	_ = flag.String("db-path", "", "SQLite database (overrides db_path)")
	_ = flag.Float64("min-lap-minutes", 0, "Minimum lap duration in minutes (overrides min_lap_minutes)")
	_ = flag.Int("confirmation-frames", 0, "Consecutive frames that confirm a marker (overrides confirmation_frames)")
	_ = flag.Bool("finish-on-end", false, "Write the final report when the stream ends (overrides finish_on_end_of_stream)")
)

// applyFlagOverrides copies every flag set on the command line onto cfg and
// validates the result.
func applyFlagOverrides(cfg *config.Config, fs *flag.FlagSet) error {
	var errs []error
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "roster":
			cfg.RosterPath = &v
		case "race":
			cfg.RaceName = &v
		case "source":
			cfg.VisionSource = &v
		case "replay":
			cfg.ReplayPath = &v
		case "port":
			cfg.SerialPort = &v
		case "zmq":
			cfg.ZMQEndpoint = &v
		case "db-path":
			cfg.DBPath = &v
		case "min-lap-minutes":
			n, err := strconv.ParseFloat(v, 64)
			errs = append(errs, err)
			cfg.MinLapMinutes = &n
		case "confirmation-frames":
			n, err := strconv.Atoi(v)
			errs = append(errs, err)
			cfg.ConfirmationFrames = &n
		case "finish-on-end":
			b, err := strconv.ParseBool(v)
			errs = append(errs, err)
			cfg.FinishOnEndOfStream = &b
		}
	})
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return cfg.Validate()
}

// loadConfig reads the configuration file. A missing default file is not an
// error: every value falls back to its default.
func loadConfig(fsys fsutil.FileSystem, path string, explicit bool) (*config.Config, error) {
	if !explicit && !fsys.Exists(path) {
		return config.Empty(), nil
	}
	return config.Load(fsys, path)
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}

	fsys := fsutil.Disk{}
	explicit := false
	flag.Visit(func(f *flag.Flag) { explicit = explicit || f.Name == "config" })
	cfg, err := loadConfig(fsys, *configPath, explicit)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := applyFlagOverrides(cfg, flag.CommandLine); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "migrate":
			err = db.RunMigrateCommand(os.Stdout, args[1:], cfg.GetDBPath())
		case "stop", "standings":
			err = runRemoteCommand(ctx, os.Stdout, api.NewClient(*stationURL, nil), args[0], args[1:])
		default:
			err = fmt.Errorf("unknown command %q", args[0])
		}
		if err != nil {
			log.Fatalf("%s: %v", args[0], err)
		}
		return
	}

	if err := runStation(ctx, fsys, cfg); err != nil {
		log.Fatalf("station: %v", err)
	}
}
