package telemetry

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsRecording(t *testing.T) {
	cfg := DefaultConfig().Metrics
	m := NewMetrics(cfg)

	m.RecordPhase("cold", true, 6*time.Minute, 20*time.Second)
	m.RecordPhase("warm", false, 0, 0)
	m.RecordBuildStep("cold", "compile", true, 6*time.Minute)
	m.RecordDeleteAttempt("delete", false)
	m.RecordDeleteAttempt("delete", true)
	m.RecordDaemonCommand("stop", true)
	m.RecordRunCompleted(false, 10*time.Minute)
	m.RecordError("PREDECESSOR_NOT_SATISFIED")

	if got := testutil.ToFloat64(m.phasesTotal.WithLabelValues("cold", "success")); got != 1 {
		t.Errorf("expected 1 successful cold phase, got %v", got)
	}
	if got := testutil.ToFloat64(m.deleteAttempts.WithLabelValues("delete", "failure")); got != 1 {
		t.Errorf("expected 1 failed delete attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues("PREDECESSOR_NOT_SATISFIED")); got != 1 {
		t.Errorf("expected error counter, got %v", got)
	}
	if n := testutil.CollectAndCount(m.phaseDuration); n != 1 {
		t.Errorf("failed phases must not observe durations, got %d series", n)
	}
}

func TestDisabledMetricsAreNoop(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false, TextfilePath: filepath.Join(t.TempDir(), "x.prom")})

	m.RecordPhase("cold", true, time.Second, time.Second)
	m.RecordBuildStep("cold", "compile", true, time.Second)
	m.RecordDeleteAttempt("delete", true)
	m.RecordDaemonCommand("start", true)
	m.RecordRunCompleted(true, time.Second)
	m.RecordError("X")

	if m.Registry() != nil {
		t.Error("disabled metrics must not have a registry")
	}
	if err := m.WriteTextfile(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("expected 404 from disabled handler, got %d", rec.Code)
	}
}

func TestWriteTextfile(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.TextfilePath = filepath.Join(t.TempDir(), "oslbench.prom")
	m := NewMetrics(cfg)
	m.RecordPhase("nocache", true, 5*time.Minute, 10*time.Second)

	if err := m.WriteTextfile(); err != nil {
		t.Fatalf("failed to write textfile: %v", err)
	}
	data, err := os.ReadFile(cfg.TextfilePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `oslbench_phases_total{phase="nocache",status="success"} 1`) {
		t.Errorf("textfile missing phase counter:\n%s", data)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := NewMetrics(DefaultConfig().Metrics)
	m.RecordDaemonCommand("start", true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "oslbench_daemon_commands_total") {
		t.Errorf("expected daemon counter in output")
	}
}

func TestTracerSpans(t *testing.T) {
	tests := []struct {
		name string
		cfg  TracingConfig
	}{
		{"disabled", TracingConfig{}},
		{"no exporter", TracingConfig{Enabled: true, Exporter: "none", SamplingRate: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := NewTracer(tt.cfg, "oslbench", "test")
			if err != nil {
				t.Fatalf("failed to create tracer: %v", err)
			}
			ctx, run := tracer.StartRunSpan(context.Background(), "run-1", "1.0.2-stable")
			_, phase := tracer.StartPhaseSpan(ctx, "cold")
			RecordError(phase, os.ErrNotExist)
			phase.End()
			RecordSuccess(run)
			run.End()

			if tt.cfg.Enabled && TraceID(ctx) == "" {
				t.Error("expected a trace id for an enabled tracer")
			}
			if err := tracer.Shutdown(context.Background()); err != nil {
				t.Errorf("shutdown failed: %v", err)
			}
		})
	}
}

func TestNewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oslbench.log")
	logger, closer, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug().Str("phase", "warm").Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"phase":"warm"`) {
		t.Errorf("unexpected log output %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warn") != zerolog.WarnLevel || ParseLevel("bogus") != zerolog.InfoLevel {
		t.Error("unexpected level mapping")
	}
}
