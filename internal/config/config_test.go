package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/face-checkin/internal/facematch"
)

func clearThresholdEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"THRESHOLDS_PROFILE", "THRESHOLDS_FILE", "MATCH_METRIC", "MATCH_THRESHOLD",
		"COUNTDOWN_TICKS", "COUNTDOWN_INTERVAL", "REQUIRE_OPEN_EYES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearThresholdEnv(t)
	os.Unsetenv("WEB_PORT")
	os.Unsetenv("CAMERA_WIDTH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Camera.Width != 640 {
		t.Errorf("expected default camera width 640, got %d", cfg.Camera.Width)
	}
	if cfg.Thresholds.Profile != DefaultProfile {
		t.Errorf("expected default profile, got %s", cfg.Thresholds.Profile)
	}
	if cfg.Thresholds.Match.Metric != facematch.MetricMeanDistance {
		t.Errorf("expected mean distance metric, got %s", cfg.Thresholds.Match.Metric)
	}
	if cfg.Thresholds.Quality.LuminanceLow != 60 || cfg.Thresholds.Quality.LuminanceHigh != 200 {
		t.Errorf("unexpected luminance defaults %v/%v",
			cfg.Thresholds.Quality.LuminanceLow, cfg.Thresholds.Quality.LuminanceHigh)
	}
}

func TestLoadThresholds_Profiles(t *testing.T) {
	names := Profiles()
	if len(names) < 3 {
		t.Fatalf("expected at least 3 embedded profiles, got %v", names)
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			th, err := LoadThresholds(name, "")
			if err != nil {
				t.Fatalf("loading profile: %v", err)
			}
			if err := th.Validate(); err != nil {
				t.Errorf("embedded profile %s is invalid: %v", name, err)
			}
		})
	}
}

func TestLoadThresholds_StrictOverridesOnlyListedFields(t *testing.T) {
	th, err := LoadThresholds("strict", "")
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultThresholds()

	if th.Quality.CenteringTolerance != 0.1 {
		t.Errorf("expected strict centering 0.1, got %v", th.Quality.CenteringTolerance)
	}
	if !th.Quality.RequireOpenEyes {
		t.Error("expected strict profile to require open eyes")
	}
	if th.Quality.LuminanceLow != def.Quality.LuminanceLow {
		t.Errorf("unlisted field changed: luminance_low %v", th.Quality.LuminanceLow)
	}
	if th.Quality.Layout.RightEyeOuter != def.Quality.Layout.RightEyeOuter {
		t.Error("unlisted layout changed")
	}
	if th.Capture.TickInterval != time.Second {
		t.Errorf("expected default tick interval, got %s", th.Capture.TickInterval)
	}
}

func TestLoadThresholds_UnknownProfile(t *testing.T) {
	if _, err := LoadThresholds("paranoid", ""); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestLoadThresholds_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	content := `
quality:
  luminance_low: 70
  distance_proxy: inter_ocular
capture:
  tick_interval: 500ms
match:
  metric: cosine
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	th, err := LoadThresholds("relaxed", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if th.Quality.LuminanceLow != 70 {
		t.Errorf("expected file to override luminance_low, got %v", th.Quality.LuminanceLow)
	}
	if th.Quality.LuminanceHigh != 220 {
		t.Errorf("expected relaxed luminance_high to survive, got %v", th.Quality.LuminanceHigh)
	}
	if th.Capture.TickInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms interval, got %s", th.Capture.TickInterval)
	}
	if th.Match.Threshold() != 0.98 {
		t.Errorf("expected relaxed cosine threshold 0.98, got %v", th.Match.Threshold())
	}

	if _, err := LoadThresholds("", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearThresholdEnv(t)
	t.Setenv("MATCH_METRIC", "cosine")
	t.Setenv("MATCH_THRESHOLD", "0.97")
	t.Setenv("COUNTDOWN_TICKS", "5")
	t.Setenv("REQUIRE_OPEN_EYES", "true")
	t.Setenv("ATTENDANCE_DEDUP_WINDOW", "15m")
	t.Setenv("WEB_ALLOWED_ORIGINS", "http://a.test, http://b.test,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	th := cfg.Thresholds
	if th.Match.Metric != facematch.MetricCosine || th.Match.SimilarityThreshold != 0.97 {
		t.Errorf("expected cosine at 0.97, got %s at %v", th.Match.Metric, th.Match.Threshold())
	}
	if th.Match.DistanceThreshold != 0.1 {
		t.Errorf("distance threshold must be untouched, got %v", th.Match.DistanceThreshold)
	}
	if th.Capture.CountdownTicks != 5 {
		t.Errorf("expected 5 countdown ticks, got %d", th.Capture.CountdownTicks)
	}
	if !th.Quality.RequireOpenEyes {
		t.Error("expected open eyes required")
	}
	if cfg.Attendance.DedupWindow != 15*time.Minute {
		t.Errorf("expected 15m dedup window, got %s", cfg.Attendance.DedupWindow)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("unexpected allowed origins %v", cfg.Web.AllowedOrigins)
	}
}

func TestLoad_InvalidThresholds(t *testing.T) {
	clearThresholdEnv(t)
	t.Setenv("MATCH_METRIC", "hamming")

	if _, err := Load(); err == nil {
		t.Error("expected validation error for unknown metric")
	}
}

func TestEnvInt_Invalid(t *testing.T) {
	tests := []struct {
		value    string
		expected int
	}{
		{"", 25},
		{"10", 10},
		{"invalid", 25},
		{"-3", 25},
		{"0", 25},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tt.value)
			if got := envInt("TEST_ENV_INT", 25); got != tt.expected {
				t.Errorf("envInt(%q) = %d, want %d", tt.value, got, tt.expected)
			}
		})
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_ENV_DURATION", "nonsense")
	if got := envDuration("TEST_ENV_DURATION", time.Minute); got != time.Minute {
		t.Errorf("expected fallback, got %s", got)
	}
	t.Setenv("TEST_ENV_DURATION", "90s")
	if got := envDuration("TEST_ENV_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %s", got)
	}
}

func TestThresholds_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Thresholds)
	}{
		{"zero ticks", func(th *Thresholds) { th.Capture.CountdownTicks = 0 }},
		{"zero interval", func(th *Thresholds) { th.Capture.TickInterval = 0 }},
		{"bad metric", func(th *Thresholds) { th.Match.Metric = "l1" }},
		{"similarity out of range", func(th *Thresholds) { th.Match.SimilarityThreshold = 1.2 }},
		{"quality inverted", func(th *Thresholds) { th.Quality.TooFar = 0.9 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := DefaultThresholds()
			tt.mutate(&th)
			if err := th.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMQTTConfig_Enabled(t *testing.T) {
	if (MQTTConfig{}).Enabled() {
		t.Error("expected disabled without broker")
	}
	if !(MQTTConfig{Broker: "localhost"}).Enabled() {
		t.Error("expected enabled with broker")
	}
}

func TestMatchSettings_ApproximatePrefilter(t *testing.T) {
	tests := []struct {
		name     string
		metric   string
		minSize  int
		expected bool
	}{
		{"disabled", facematch.MetricMeanDistance, 0, false},
		{"mean distance", facematch.MetricMeanDistance, 1000, true},
		{"cosine", facematch.MetricCosine, 1000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MatchSettings{Metric: tt.metric, IndexMinGallery: tt.minSize}
			if got := m.ApproximatePrefilter(); got != tt.expected {
				t.Errorf("ApproximatePrefilter() = %v, want %v", got, tt.expected)
			}
		})
	}
}
