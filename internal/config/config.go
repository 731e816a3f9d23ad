package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/presence.report/internal/dispatch"
	"github.com/banshee-data/presence.report/internal/serialmux"
)

// Environment variables holding secrets. They are never read from the JSON
// file.
const (
	EnvSMTPPassword    = "PRESENCE_SMTP_PASSWORD"
	EnvGeneratorAPIKey = "PRESENCE_GENERATOR_API_KEY"
)

// Config is the appliance configuration. Every field is optional; the Get*
// methods supply defaults for anything the file leaves out.
type Config struct {
	Sampling  SamplingConfig  `json:"sampling"`
	Debounce  DebounceConfig  `json:"debounce"`
	Badge     BadgeConfig     `json:"badge"`
	RFID      RFIDConfig      `json:"rfid"`
	Camera    CameraConfig    `json:"camera"`
	Detector  DetectorConfig  `json:"detector"`
	Report    ReportConfig    `json:"report"`
	Generator GeneratorConfig `json:"generator"`
	SMTP      SMTPConfig      `json:"smtp"`
	Health    HealthConfig    `json:"health"`

	// Secrets, filled from the environment by LoadSecrets.
	SMTPPassword    string `json:"-"`
	GeneratorAPIKey string `json:"-"`
}

type SamplingConfig struct {
	Interval        *string `json:"interval,omitempty"`          // duration string like "30s"
	BatchSize       *int    `json:"batch_size,omitempty"`
	InterFrameDelay *string `json:"inter_frame_delay,omitempty"` // duration string like "200ms"
	ReinitAfter     *int    `json:"reinit_after,omitempty"`
	LiveInterval    *string `json:"live_interval,omitempty"`
	KeepFrames      *bool   `json:"keep_frames,omitempty"`
	FrameRetention  *string `json:"frame_retention,omitempty"` // "0" keeps frames forever
}

type DebounceConfig struct {
	Depth        *int `json:"depth,omitempty"`
	ConfirmTicks *int `json:"confirm_ticks,omitempty"`
}

type BadgeConfig struct {
	Cooldown        *string `json:"cooldown,omitempty"`
	MemoryRetention *string `json:"memory_retention,omitempty"`
	PruneInterval   *string `json:"prune_interval,omitempty"`
	PollInterval    *string `json:"poll_interval,omitempty"`
}

type RFIDConfig struct {
	Port     *string `json:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`
}

type CameraConfig struct {
	SnapshotURL *string `json:"snapshot_url,omitempty"`
	Timeout     *string `json:"timeout,omitempty"`
	// FramesDir replays JPEG files from a directory instead of a camera.
	FramesDir *string `json:"frames_dir,omitempty"`
}

type DetectorConfig struct {
	URL     *string `json:"url,omitempty"`
	Timeout *string `json:"timeout,omitempty"`
}

type ReportConfig struct {
	Time        *string `json:"time,omitempty"` // "HH:MM"
	Timezone    *string `json:"timezone,omitempty"`
	AttachChart *bool   `json:"attach_chart,omitempty"`
	RunTimeout  *string `json:"run_timeout,omitempty"`
	// OutDir writes reports to disk instead of sending email.
	OutDir *string `json:"out_dir,omitempty"`
}

type GeneratorConfig struct {
	URL     *string `json:"url,omitempty"`
	Model   *string `json:"model,omitempty"`
	Timeout *string `json:"timeout,omitempty"`
}

type SMTPConfig struct {
	Host     *string  `json:"host,omitempty"`
	Port     *int     `json:"port,omitempty"`
	Username *string  `json:"username,omitempty"`
	From     *string  `json:"from,omitempty"`
	To       []string `json:"to,omitempty"`
}

type HealthConfig struct {
	Listen *string `json:"listen,omitempty"`
}

// Default returns an empty config; every Get* method returns its default.
func Default() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file and validates it. The file must have
// a .json extension and be at most 1 MiB. Unknown keys are rejected so typos
// do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadSecrets reads envFile (if it exists) into the process environment
// without overriding variables already set, then copies the secrets into c.
func (c *Config) LoadSecrets(envFile string) error {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat %s: %w", envFile, err)
		}
	}
	c.SMTPPassword = os.Getenv(EnvSMTPPassword)
	c.GeneratorAPIKey = os.Getenv(EnvGeneratorAPIKey)
	return nil
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	durations := map[string]*string{
		"sampling.interval":          c.Sampling.Interval,
		"sampling.inter_frame_delay": c.Sampling.InterFrameDelay,
		"sampling.live_interval":     c.Sampling.LiveInterval,
		"sampling.frame_retention":   c.Sampling.FrameRetention,
		"badge.cooldown":             c.Badge.Cooldown,
		"badge.memory_retention":     c.Badge.MemoryRetention,
		"badge.prune_interval":       c.Badge.PruneInterval,
		"badge.poll_interval":        c.Badge.PollInterval,
		"camera.timeout":             c.Camera.Timeout,
		"detector.timeout":           c.Detector.Timeout,
		"generator.timeout":          c.Generator.Timeout,
		"report.run_timeout":         c.Report.RunTimeout,
	}
	for name, v := range durations {
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

	positive := map[string]*int{
		"sampling.batch_size":    c.Sampling.BatchSize,
		"sampling.reinit_after":  c.Sampling.ReinitAfter,
		"debounce.depth":         c.Debounce.Depth,
		"debounce.confirm_ticks": c.Debounce.ConfirmTicks,
		"rfid.baud_rate":         c.RFID.BaudRate,
	}
	for name, v := range positive {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}
	if c.GetConfirmTicks() > c.GetDebounceDepth() {
		return fmt.Errorf("debounce.confirm_ticks (%d) cannot exceed debounce.depth (%d)", c.GetConfirmTicks(), c.GetDebounceDepth())
	}
	if c.GetSamplingInterval() == 0 {
		return fmt.Errorf("sampling.interval must be positive")
	}

	if _, _, err := dispatch.ParseTimeOfDay(c.GetReportTime()); err != nil {
		return fmt.Errorf("invalid report.time: %w", err)
	}
	if _, err := c.GetLocation(); err != nil {
		return fmt.Errorf("invalid report.timezone %q: %w", c.GetTimezone(), err)
	}
	if _, err := c.GetPortOptions().Normalize(); err != nil {
		return fmt.Errorf("invalid rfid settings: %w", err)
	}
	if c.SMTP.Port != nil && (*c.SMTP.Port < 1 || *c.SMTP.Port > 65535) {
		return fmt.Errorf("smtp.port must be between 1 and 65535, got %d", *c.SMTP.Port)
	}
	for _, to := range c.SMTP.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("invalid smtp.to address %q", to)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// GetSamplingInterval returns the time between best-frame batches.
func (c *Config) GetSamplingInterval() time.Duration {
	return durationOr(c.Sampling.Interval, 30*time.Second)
}

// GetBatchSize returns the number of frames drawn per batch.
func (c *Config) GetBatchSize() int { return intOr(c.Sampling.BatchSize, 5) }

// GetInterFrameDelay returns the pause between frames of one batch.
func (c *Config) GetInterFrameDelay() time.Duration {
	return durationOr(c.Sampling.InterFrameDelay, 200*time.Millisecond)
}

// GetReinitAfter returns how many failed batches in a row reinitialize the
// camera.
func (c *Config) GetReinitAfter() int { return intOr(c.Sampling.ReinitAfter, 3) }

// GetLiveInterval returns the live-view refresh period.
func (c *Config) GetLiveInterval() time.Duration {
	return durationOr(c.Sampling.LiveInterval, time.Second)
}

// GetKeepFrames reports whether best frames are stored with their records.
func (c *Config) GetKeepFrames() bool { return boolOr(c.Sampling.KeepFrames, true) }

// GetFrameRetention returns how long stored frames are kept; 0 keeps them.
func (c *Config) GetFrameRetention() time.Duration {
	return durationOr(c.Sampling.FrameRetention, 72*time.Hour)
}

// GetDebounceDepth returns the debounce window length in ticks.
func (c *Config) GetDebounceDepth() int { return intOr(c.Debounce.Depth, 5) }

// GetConfirmTicks returns how many window entries must agree before a change
// is confirmed. It defaults to the full window.
func (c *Config) GetConfirmTicks() int { return intOr(c.Debounce.ConfirmTicks, c.GetDebounceDepth()) }

func (c *Config) GetBadgeCooldown() time.Duration {
	return durationOr(c.Badge.Cooldown, 3*time.Second)
}

func (c *Config) GetMemoryRetention() time.Duration {
	return durationOr(c.Badge.MemoryRetention, 7*24*time.Hour)
}

func (c *Config) GetPruneInterval() time.Duration {
	return durationOr(c.Badge.PruneInterval, 6*time.Hour)
}

func (c *Config) GetPollInterval() time.Duration {
	return durationOr(c.Badge.PollInterval, 100*time.Millisecond)
}

// GetRFIDPort returns the serial device of the RFID reader.
func (c *Config) GetRFIDPort() string { return stringOr(c.RFID.Port, "/dev/ttyUSB0") }

// GetPortOptions returns the RFID serial settings.
func (c *Config) GetPortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: intOr(c.RFID.BaudRate, 9600),
		DataBits: intOr(c.RFID.DataBits, 8),
		StopBits: intOr(c.RFID.StopBits, 1),
		Parity:   stringOr(c.RFID.Parity, "N"),
	}
}

// GetSnapshotURL returns the camera still-image URL.
func (c *Config) GetSnapshotURL() string {
	return stringOr(c.Camera.SnapshotURL, "http://localhost:8081/snapshot.jpg")
}

func (c *Config) GetCameraTimeout() time.Duration {
	return durationOr(c.Camera.Timeout, 5*time.Second)
}

// GetFramesDir returns the replay directory, or "" for none.
func (c *Config) GetFramesDir() string { return stringOr(c.Camera.FramesDir, "") }

func (c *Config) GetDetectorURL() string {
	return stringOr(c.Detector.URL, "http://localhost:8000/detect")
}

func (c *Config) GetDetectorTimeout() time.Duration {
	return durationOr(c.Detector.Timeout, 5*time.Second)
}

// GetReportTime returns the daily report time as "HH:MM".
func (c *Config) GetReportTime() string { return stringOr(c.Report.Time, "21:00") }

// GetTimezone returns the configured report timezone name.
func (c *Config) GetTimezone() string { return stringOr(c.Report.Timezone, "Local") }

// GetLocation loads the report timezone.
func (c *Config) GetLocation() (*time.Location, error) {
	return time.LoadLocation(c.GetTimezone())
}

func (c *Config) GetAttachChart() bool { return boolOr(c.Report.AttachChart, true) }

func (c *Config) GetRunTimeout() time.Duration {
	return durationOr(c.Report.RunTimeout, 2*time.Minute)
}

// GetReportOutDir returns the directory reports are written to instead of
// email, or "".
func (c *Config) GetReportOutDir() string { return stringOr(c.Report.OutDir, "") }

// GetGeneratorURL returns the chat-completions endpoint. Empty disables the
// generator and every report uses the HTML fallback.
func (c *Config) GetGeneratorURL() string { return stringOr(c.Generator.URL, "") }

func (c *Config) GetGeneratorModel() string { return stringOr(c.Generator.Model, "gpt-4o-mini") }

func (c *Config) GetGeneratorTimeout() time.Duration {
	return durationOr(c.Generator.Timeout, 30*time.Second)
}

func (c *Config) GetSMTPHost() string     { return stringOr(c.SMTP.Host, "") }
func (c *Config) GetSMTPPort() int        { return intOr(c.SMTP.Port, 587) }
func (c *Config) GetSMTPUsername() string { return stringOr(c.SMTP.Username, "") }
func (c *Config) GetSMTPFrom() string     { return stringOr(c.SMTP.From, c.GetSMTPUsername()) }
func (c *Config) GetSMTPTo() []string     { return c.SMTP.To }

// GetHealthListen returns the gRPC health listen address; "" disables it.
func (c *Config) GetHealthListen() string {
	if c.Health.Listen == nil {
		return "localhost:50051"
	}
	return *c.Health.Listen
}
