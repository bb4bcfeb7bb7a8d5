package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-checkin/internal/constants"
	"github.com/kozaktomas/face-checkin/internal/facematch"
	"github.com/kozaktomas/face-checkin/internal/quality"
	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profilesYAML []byte

// DefaultProfile is the calibration profile used when THRESHOLDS_PROFILE is unset.
const DefaultProfile = "default"

type Config struct {
	Log        LogConfig
	Database   DatabaseConfig
	Web        WebConfig
	Detector   DetectorConfig
	Camera     CameraConfig
	MQTT       MQTTConfig
	Attendance AttendanceConfig
	Thresholds Thresholds
	Language   string
}

type LogConfig struct {
	Level  string // debug, info, warn, error (default info)
	File   string // optional log file in addition to stdout
	Format string // text or json
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	SQLitePath    string // local SQLite file, used when URL is empty
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the template HNSW index (optional)
}

type WebConfig struct {
	Host               string
	Port               int
	AllowedOrigins     []string
	SessionIdleTimeout time.Duration
}

type DetectorConfig struct {
	URL     string // landmark detection service, e.g. http://localhost:8001
	Timeout time.Duration
}

type CameraConfig struct {
	Device string // e.g. /dev/video0
	Width  int
	Height int
}

type MQTTConfig struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	Topic    string
}

// Enabled reports whether an MQTT broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

type AttendanceConfig struct {
	// DedupWindow suppresses a second record for the same identity and event
	// reference within the window; 0 disables the check.
	DedupWindow time.Duration
}

// Thresholds is the single tunable configuration object shared by the gate,
// the capture machine and the matcher.
type Thresholds struct {
	Quality quality.Config  `yaml:"quality" json:"quality"`
	Capture CaptureSettings `yaml:"capture" json:"capture"`
	Match   MatchSettings   `yaml:"match" json:"match"`
	Profile string          `yaml:"-" json:"profile"`
}

// CaptureSettings controls the countdown that precedes a capture.
type CaptureSettings struct {
	CountdownTicks int           `yaml:"countdown_ticks" json:"countdown_ticks"`
	TickInterval   time.Duration `yaml:"tick_interval" json:"tick_interval"`
}

// MatchSettings selects the matching metric and its acceptance thresholds.
// Only the threshold of the selected metric is used.
type MatchSettings struct {
	Metric              string  `yaml:"metric" json:"metric"`
	DistanceThreshold   float64 `yaml:"distance_threshold" json:"distance_threshold"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	ParallelMinGallery  int     `yaml:"parallel_min_gallery" json:"parallel_min_gallery"`
	IndexMinGallery     int     `yaml:"index_min_gallery" json:"index_min_gallery"`
	IndexCandidates     int     `yaml:"index_candidates" json:"index_candidates"`
}

// Threshold returns the acceptance threshold of the selected metric.
func (m MatchSettings) Threshold() float64 {
	if m.Metric == facematch.MetricCosine {
		return m.SimilarityThreshold
	}
	return m.DistanceThreshold
}

// ApproximatePrefilter reports whether the index prefilter is enabled for a
// metric it does not rank by. The index orders candidates by vector distance,
// so under mean_distance the exact best template can be dropped.
func (m MatchSettings) ApproximatePrefilter() bool {
	return m.IndexMinGallery > 0 && m.Metric != facematch.MetricCosine
}

// SetThreshold sets the acceptance threshold of the selected metric.
func (m *MatchSettings) SetThreshold(v float64) {
	if m.Metric == facematch.MetricCosine {
		m.SimilarityThreshold = v
		return
	}
	m.DistanceThreshold = v
}

// DefaultThresholds returns the built-in thresholds before any profile is applied.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Quality: quality.DefaultConfig(),
		Capture: CaptureSettings{
			CountdownTicks: constants.DefaultCountdownTicks,
			TickInterval:   constants.DefaultTickInterval,
		},
		Match: MatchSettings{
			Metric:              facematch.MetricMeanDistance,
			DistanceThreshold:   constants.DefaultDistanceThreshold,
			SimilarityThreshold: constants.DefaultSimilarityThreshold,
			ParallelMinGallery:  constants.DefaultParallelMinGallery,
			IndexMinGallery:     constants.DefaultIndexMinGallery,
			IndexCandidates:     constants.DefaultIndexCandidates,
		},
		Profile: DefaultProfile,
	}
}

// Validate rejects inconsistent thresholds.
func (t Thresholds) Validate() error {
	errs := []error{t.Quality.Validate()}
	if t.Capture.CountdownTicks <= 0 {
		errs = append(errs, fmt.Errorf("countdown_ticks must be positive, got %d", t.Capture.CountdownTicks))
	}
	if t.Capture.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", t.Capture.TickInterval))
	}
	if _, err := facematch.MetricByName(t.Match.Metric); err != nil {
		errs = append(errs, err)
	}
	if t.Match.DistanceThreshold <= 0 {
		errs = append(errs, errors.New("distance_threshold must be positive"))
	}
	if t.Match.SimilarityThreshold <= -1 || t.Match.SimilarityThreshold >= 1 {
		errs = append(errs, fmt.Errorf("similarity_threshold must be in (-1, 1), got %.3f", t.Match.SimilarityThreshold))
	}
	if t.Match.IndexMinGallery < 0 {
		errs = append(errs, errors.New("index_min_gallery must not be negative"))
	}
	return errors.Join(errs...)
}

type profilesFile struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// embeddedProfiles parses the embedded profiles.yaml.
func embeddedProfiles() map[string]yaml.Node {
	var pf profilesFile
	if err := yaml.Unmarshal(profilesYAML, &pf); err != nil {
		// Embedded file, this only happens on a broken build.
		panic("failed to unmarshal embedded profiles.yaml: " + err.Error())
	}
	return pf.Profiles
}

// Profiles lists the names of the embedded calibration profiles.
func Profiles() []string {
	profiles := embeddedProfiles()
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadThresholds applies an embedded profile and an optional YAML file on top
// of the defaults. Fields missing from either source keep their previous value.
func LoadThresholds(profile, file string) (Thresholds, error) {
	t := DefaultThresholds()
	if profile == "" {
		profile = DefaultProfile
	}

	node, ok := embeddedProfiles()[profile]
	if !ok {
		return t, fmt.Errorf("unknown thresholds profile %q", profile)
	}
	if err := node.Decode(&t); err != nil {
		return t, fmt.Errorf("decoding profile %q: %w", profile, err)
	}
	t.Profile = profile

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return t, fmt.Errorf("reading thresholds file: %w", err)
		}
		if err := yaml.Unmarshal(data, &t); err != nil {
			return t, fmt.Errorf("parsing thresholds file %s: %w", file, err)
		}
		t.Profile = profile + "+" + file
	}
	return t, nil
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float, or returns ok=false.
func envFloat(key string) (float64, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// envBool reads an environment variable as a bool, or returns ok=false.
func envBool(key string) (bool, bool) {
	s := os.Getenv(key)
	if s == "" {
		return false, false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}

// envDuration reads an environment variable as a duration ("90s", "10m").
// Returns the default value if the env var is unset or invalid.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyThresholdEnv applies the environment overrides on top of the profile.
func applyThresholdEnv(t *Thresholds) {
	if m := os.Getenv("MATCH_METRIC"); m != "" {
		t.Match.Metric = m
	}
	if v, ok := envFloat("MATCH_THRESHOLD"); ok {
		t.Match.SetThreshold(v)
	}
	t.Capture.CountdownTicks = envInt("COUNTDOWN_TICKS", t.Capture.CountdownTicks)
	t.Capture.TickInterval = envDuration("COUNTDOWN_INTERVAL", t.Capture.TickInterval)
	if b, ok := envBool("REQUIRE_OPEN_EYES"); ok {
		t.Quality.RequireOpenEyes = b
	}
}

// Load reads the configuration from the environment and resolves the thresholds.
func Load() (*Config, error) {
	thresholds, err := LoadThresholds(os.Getenv("THRESHOLDS_PROFILE"), os.Getenv("THRESHOLDS_FILE"))
	if err != nil {
		return nil, err
	}
	applyThresholdEnv(&thresholds)
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	return &Config{
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			File:   os.Getenv("LOG_FILE"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			SQLitePath:    os.Getenv("SQLITE_PATH"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Web: WebConfig{
			Host:               envString("WEB_HOST", "0.0.0.0"),
			Port:               envInt("WEB_PORT", 8080),
			AllowedOrigins:     envList("WEB_ALLOWED_ORIGINS"),
			SessionIdleTimeout: envDuration("SESSION_IDLE_TIMEOUT", constants.DefaultSessionIdleTimeout),
		},
		Detector: DetectorConfig{
			URL:     os.Getenv("DETECTOR_URL"),
			Timeout: envDuration("DETECTOR_TIMEOUT", constants.DefaultDetectorTimeout),
		},
		Camera: CameraConfig{
			Device: os.Getenv("CAMERA_DEVICE"),
			Width:  envInt("CAMERA_WIDTH", 640),
			Height: envInt("CAMERA_HEIGHT", 480),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			Port:     envInt("MQTT_PORT", 1883),
			ClientID: envString("MQTT_CLIENT_ID", "face-checkin"),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
			Topic:    envString("MQTT_TOPIC", "face-checkin/attendance"),
		},
		Attendance: AttendanceConfig{
			DedupWindow: envDuration("ATTENDANCE_DEDUP_WINDOW", 0),
		},
		Thresholds: thresholds,
		Language:   envString("GUIDANCE_LANG", "en"),
	}, nil
}
