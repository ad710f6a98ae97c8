// Package config loads the timing station configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/laps.report/internal/fsutil"
	"github.com/banshee-data/laps.report/internal/serialmux"
	"github.com/banshee-data/laps.report/internal/units"
)

// DefaultConfigPath is the canonical defaults file shipped with the repo.
const DefaultConfigPath = "config/laptimer.defaults.json"

// maxFileSize bounds config files read from disk.
const maxFileSize = 1 * 1024 * 1024

// Vision sources.
const (
	SourceReplay = "replay"
	SourceSerial = "serial"
	SourceZMQ    = "zmq"
)

// Config is the timing station configuration. Every field is optional: the
// Get* accessors return the default for unset fields, so partial files are
// safe and command-line flags can override individual values.
type Config struct {
	// Timing
	ConfirmationFrames  *int     `json:"confirmation_frames,omitempty"`
	MinLapMinutes       *float64 `json:"min_lap_minutes,omitempty"`
	StopWindow          *string  `json:"stop_window,omitempty"` // duration string like "300ms"
	StartCommand        *string  `json:"start_command,omitempty"`
	RaceName            *string  `json:"race_name,omitempty"`
	FinishOnEndOfStream *bool    `json:"finish_on_end_of_stream,omitempty"`

	// Inputs
	RosterPath          *string                `json:"roster_path,omitempty"`
	VisionSource        *string                `json:"vision_source,omitempty"`
	ReplayPath          *string                `json:"replay_path,omitempty"`
	ReplayFrameInterval *string                `json:"replay_frame_interval,omitempty"`
	SerialPort          *string                `json:"serial_port,omitempty"`
	Serial              *serialmux.PortOptions `json:"serial,omitempty"`
	ZMQEndpoint         *string                `json:"zmq_endpoint,omitempty"`

	// Outputs
	SnapshotDir     *string `json:"snapshot_dir,omitempty"`
	LapReportDir    *string `json:"lap_report_dir,omitempty"`
	DBPath          *string `json:"db_path,omitempty"`
	JournalDir      *string `json:"journal_dir,omitempty"`
	AsyncReports    *bool   `json:"async_reports,omitempty"`
	ReportQueueSize *int    `json:"report_queue_size,omitempty"`
	Timezone        *string `json:"timezone,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Defaults returns a Config with every field set to its default value.
func Defaults() *Config {
	e := Empty()
	return &Config{
		ConfirmationFrames:  ptrInt(e.GetConfirmationFrames()),
		MinLapMinutes:       ptrFloat64(e.GetMinLapMinutes()),
		StopWindow:          ptrString(e.GetStopWindow().String()),
		StartCommand:        ptrString(e.GetStartCommand()),
		RaceName:            ptrString(e.GetRaceName()),
		FinishOnEndOfStream: ptrBool(e.GetFinishOnEndOfStream()),
		RosterPath:          ptrString(e.GetRosterPath()),
		VisionSource:        ptrString(e.GetVisionSource()),
		ReplayPath:          ptrString(e.GetReplayPath()),
		ReplayFrameInterval: ptrString(e.GetReplayFrameInterval().String()),
		SerialPort:          ptrString(e.GetSerialPort()),
		Serial:              &serialmux.PortOptions{},
		ZMQEndpoint:         ptrString(e.GetZMQEndpoint()),
		SnapshotDir:         ptrString(e.GetSnapshotDir()),
		LapReportDir:        ptrString(e.GetLapReportDir()),
		DBPath:              ptrString(e.GetDBPath()),
		JournalDir:          ptrString(e.GetJournalDir()),
		AsyncReports:        ptrBool(e.GetAsyncReports()),
		ReportQueueSize:     ptrInt(e.GetReportQueueSize()),
		Timezone:            ptrString(e.GetTimezone()),
	}
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under 1MB.
func Load(fsys fsutil.FileSystem, path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// maxMinLapMinutes is the largest lap gate a time.Duration can hold.
const maxMinLapMinutes = float64(math.MaxInt64 / int64(time.Minute))

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.ConfirmationFrames != nil && *c.ConfirmationFrames < 1 {
		return fmt.Errorf("confirmation_frames must be at least 1, got %d", *c.ConfirmationFrames)
	}
	if v := c.MinLapMinutes; v != nil && !(*v >= 0 && *v <= maxMinLapMinutes) {
		return fmt.Errorf("min_lap_minutes must be between 0 and %.0f, got %v", maxMinLapMinutes, *v)
	}
	for name, v := range map[string]*string{
		"stop_window":           c.StopWindow,
		"replay_frame_interval": c.ReplayFrameInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}
	if c.StartCommand != nil && strings.TrimSpace(*c.StartCommand) == "" {
		return fmt.Errorf("start_command must not be blank")
	}
	if c.VisionSource != nil {
		switch *c.VisionSource {
		case SourceReplay, SourceSerial, SourceZMQ:
		default:
			return fmt.Errorf("vision_source must be one of %q, %q or %q, got %q", SourceReplay, SourceSerial, SourceZMQ, *c.VisionSource)
		}
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}
	if c.ReportQueueSize != nil && *c.ReportQueueSize < 1 {
		return fmt.Errorf("report_queue_size must be at least 1, got %d", *c.ReportQueueSize)
	}
	if c.Timezone != nil {
		if _, err := units.Zone(*c.Timezone); err != nil {
			return err
		}
	}
	return nil
}

// GetConfirmationFrames returns the confirmation_frames value or the default.
func (c *Config) GetConfirmationFrames() int {
	if c.ConfirmationFrames == nil {
		return 6
	}
	return *c.ConfirmationFrames
}

// GetMinLapMinutes returns the min_lap_minutes value or the default.
func (c *Config) GetMinLapMinutes() float64 {
	if c.MinLapMinutes == nil {
		return 1.0
	}
	return *c.MinLapMinutes
}

// GetMinLapDuration converts min_lap_minutes to a duration.
func (c *Config) GetMinLapDuration() time.Duration {
	return units.MinutesToDuration(c.GetMinLapMinutes())
}

// GetStopWindow parses and returns the stop_window duration.
func (c *Config) GetStopWindow() time.Duration {
	return parseDuration(c.StopWindow, 300*time.Millisecond)
}

// GetStartCommand returns the start_command value or the default.
func (c *Config) GetStartCommand() string {
	return stringOr(c.StartCommand, "i")
}

// GetRaceName returns the race_name value or the default.
func (c *Config) GetRaceName() string {
	return stringOr(c.RaceName, "race")
}

// GetFinishOnEndOfStream returns the finish_on_end_of_stream value or the default.
func (c *Config) GetFinishOnEndOfStream() bool {
	if c.FinishOnEndOfStream == nil {
		return false
	}
	return *c.FinishOnEndOfStream
}

// GetRosterPath returns the roster_path value or the default.
func (c *Config) GetRosterPath() string {
	return stringOr(c.RosterPath, "Cadastros.csv")
}

// GetVisionSource returns the vision_source value or the default.
func (c *Config) GetVisionSource() string {
	return stringOr(c.VisionSource, SourceReplay)
}

// GetReplayPath returns the replay_path value or the default.
func (c *Config) GetReplayPath() string {
	return stringOr(c.ReplayPath, "race.replay")
}

// GetReplayFrameInterval parses and returns the replay pacing interval.
func (c *Config) GetReplayFrameInterval() time.Duration {
	return parseDuration(c.ReplayFrameInterval, 33*time.Millisecond)
}

// GetSerialPort returns the serial_port value or the default.
func (c *Config) GetSerialPort() string {
	return stringOr(c.SerialPort, "/dev/ttyUSB0")
}

// GetSerialOptions returns the normalised serial options.
func (c *Config) GetSerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	n, _ := serialmux.PortOptions{}.Normalize()
	return n
}

// GetZMQEndpoint returns the zmq_endpoint value or the default.
func (c *Config) GetZMQEndpoint() string {
	return stringOr(c.ZMQEndpoint, "tcp://127.0.0.1:5557")
}

// GetSnapshotDir returns the snapshot_dir value or the default.
func (c *Config) GetSnapshotDir() string {
	return stringOr(c.SnapshotDir, "registros")
}

// GetLapReportDir returns the lap_report_dir value or the default.
func (c *Config) GetLapReportDir() string {
	return stringOr(c.LapReportDir, "tempo_pilotos")
}

// GetDBPath returns the db_path value or the default.
func (c *Config) GetDBPath() string {
	return stringOr(c.DBPath, "laps.db")
}

// GetJournalDir returns the journal_dir value or the default.
func (c *Config) GetJournalDir() string {
	return stringOr(c.JournalDir, "journal")
}

// GetAsyncReports returns the async_reports value or the default.
func (c *Config) GetAsyncReports() bool {
	if c.AsyncReports == nil {
		return true
	}
	return *c.AsyncReports
}

// GetReportQueueSize returns the report_queue_size value or the default.
func (c *Config) GetReportQueueSize() int {
	if c.ReportQueueSize == nil {
		return 64
	}
	return *c.ReportQueueSize
}

// GetTimezone returns the timezone used for report timestamps.
func (c *Config) GetTimezone() string {
	return stringOr(c.Timezone, "Local")
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
