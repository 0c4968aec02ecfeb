package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jwulff/sequent/internal/capture"
	"github.com/jwulff/sequent/internal/lang"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Interval() != 15*time.Second {
		t.Errorf("interval = %v, want 15s", c.Interval())
	}
	if c.TickEvery() != 250*time.Millisecond {
		t.Errorf("tick = %v, want 250ms", c.TickEvery())
	}
	if c.GatewayTimeout() != time.Minute {
		t.Errorf("gateway timeout = %v, want 1m", c.GatewayTimeout())
	}
	langs, err := c.Languages()
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	if langs.Source != lang.Korean || langs.Target != lang.English {
		t.Errorf("languages = %+v, want Korean -> English", langs)
	}
	if c.Device != DeviceFFmpeg {
		t.Errorf("device = %q, want %q", c.Device, DeviceFFmpeg)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SEQUENT_INTERVAL_MS", "5000")
	t.Setenv("SEQUENT_SOURCE_LANG", "ja")
	t.Setenv("SEQUENT_DEVICE", "synthetic")

	c, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.IntervalMs != 5000 {
		t.Errorf("interval_ms = %d, want 5000", c.IntervalMs)
	}
	langs, _ := c.Languages()
	if langs.Source != lang.Japanese {
		t.Errorf("source = %q, want Japanese", langs.Source)
	}
	if c.Device != DeviceSynthetic {
		t.Errorf("device = %q", c.Device)
	}
}

func TestLoadWebsocketOrigins(t *testing.T) {
	t.Setenv("SEQUENT_WS_ORIGINS", "http://localhost:5173,https://deck.example")

	c, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.WSOrigins) != 2 || c.WSOrigins[0] != "http://localhost:5173" || c.WSOrigins[1] != "https://deck.example" {
		t.Errorf("ws_origins = %q", c.WSOrigins)
	}
}

func TestLoadAPIKeyFallback(t *testing.T) {
	t.Setenv("SEQUENT_GEMINI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gk-123")
	t.Setenv("API_KEY", "other")

	c, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.GeminiAPIKey != "gk-123" {
		t.Errorf("api key = %q, want %q", c.GeminiAPIKey, "gk-123")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sequent.toml")
	toml := `interval_ms = 20000
target_lang = "Chinese (Mandarin)"
max_in_flight = 4
context = "Quarterly earnings call"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.IntervalMs != 20000 || c.MaxInFlight != 4 {
		t.Errorf("config = %+v", c)
	}
	if c.TargetLang != string(lang.Chinese) {
		t.Errorf("target_lang = %q", c.TargetLang)
	}
	if c.Context != "Quarterly earnings call" {
		t.Errorf("context = %q", c.Context)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml"), ""); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("SEQUENT_AMQP_QUEUE=from-dotenv\n"), 0o644)
	t.Cleanup(func() { os.Unsetenv("SEQUENT_AMQP_QUEUE") })

	c, err := Load("", path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.AMQPQueue != "from-dotenv" {
		t.Errorf("amqp_queue = %q, want %q", c.AMQPQueue, "from-dotenv")
	}
}

func TestLoadMissingDotenvIgnored(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero interval", func(c *Config) { c.IntervalMs = 0 }, "interval_ms"},
		{"tick longer than interval", func(c *Config) { c.TickMs = c.IntervalMs + 1 }, "tick_ms"},
		{"bad source", func(c *Config) { c.SourceLang = "Klingon" }, "source_lang"},
		{"bad target", func(c *Config) { c.TargetLang = "" }, "target_lang"},
		{"unknown device", func(c *Config) { c.Device = "webcam" }, "unknown device"},
		{"file without path", func(c *Config) { c.Device = DeviceFile }, "input_path"},
		{"negative in flight", func(c *Config) { c.MaxInFlight = -1 }, "max_in_flight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestOpenDevice(t *testing.T) {
	c, _ := Load("", "")
	c.SampleRate = 8000

	c.Device = DeviceSynthetic
	d, err := c.OpenDevice()
	if err != nil {
		t.Fatalf("open synthetic: %v", err)
	}
	if s, ok := d.(*capture.Synthetic); !ok || s.BytesPerSegment != 16000 {
		t.Errorf("synthetic device = %#v", d)
	}

	c.Device = DeviceFFmpeg
	d, _ = c.OpenDevice()
	if f, ok := d.(*capture.FFmpeg); !ok || f.Format.SampleRate != 8000 {
		t.Errorf("ffmpeg device = %#v", d)
	}

	c.Device = DeviceFile
	c.InputPath = "/tmp/in.pcm"
	if d, _ = c.OpenDevice(); d.Name() == "" {
		t.Error("file device has no name")
	}
}
