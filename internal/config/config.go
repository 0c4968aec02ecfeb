// Package config loads settings from defaults, an optional config file, a
// .env file and SEQUENT_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jwulff/sequent/internal/capture"
	"github.com/jwulff/sequent/internal/lang"
)

// EnvPrefix is prepended to every key when read from the environment.
const EnvPrefix = "SEQUENT"

// Config holds every setting. Durations are stored in milliseconds to keep
// the file and env formats plain integers.
type Config struct {
	IntervalMs int    `mapstructure:"interval_ms"`
	TickMs     int    `mapstructure:"tick_ms"`
	SourceLang string `mapstructure:"source_lang"`
	TargetLang string `mapstructure:"target_lang"`

	Device       string `mapstructure:"device"`
	FFmpegPath   string `mapstructure:"ffmpeg_path"`
	FFmpegFormat string `mapstructure:"ffmpeg_format"`
	FFmpegInput  string `mapstructure:"ffmpeg_input"`
	InputPath    string `mapstructure:"input_path"`
	SampleRate   int    `mapstructure:"sample_rate"`

	GeminiAPIKey     string `mapstructure:"gemini_api_key"`
	GeminiModel      string `mapstructure:"gemini_model"`
	GeminiBaseURL    string `mapstructure:"gemini_base_url"`
	GatewayTimeoutMs int    `mapstructure:"gateway_timeout_ms"`
	MaxInFlight      int    `mapstructure:"max_in_flight"`
	Context          string `mapstructure:"context"`

	DBPath     string   `mapstructure:"db_path"`
	SocketPath string   `mapstructure:"socket_path"`
	WSAddr     string   `mapstructure:"ws_addr"`
	WSOrigins  []string `mapstructure:"ws_origins"`
	AMQPURL    string   `mapstructure:"amqp_url"`
	AMQPQueue  string   `mapstructure:"amqp_queue"`
	LogFile    string   `mapstructure:"log_file"`
	LogLevel   string   `mapstructure:"log_level"`
	ExportDir  string   `mapstructure:"export_dir"`
}

// Device kinds accepted by the device key.
const (
	DeviceFFmpeg    = "ffmpeg"
	DeviceStdin     = "stdin"
	DeviceFile      = "file"
	DeviceSynthetic = "synthetic"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval_ms", 15000)
	v.SetDefault("tick_ms", 250)
	v.SetDefault("source_lang", string(lang.Korean))
	v.SetDefault("target_lang", string(lang.English))
	v.SetDefault("device", DeviceFFmpeg)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffmpeg_format", "")
	v.SetDefault("ffmpeg_input", "")
	v.SetDefault("input_path", "")
	v.SetDefault("sample_rate", capture.DefaultFormat.SampleRate)
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-3-flash-preview")
	v.SetDefault("gemini_base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gateway_timeout_ms", 60000)
	v.SetDefault("max_in_flight", 0)
	v.SetDefault("context", "")
	v.SetDefault("db_path", "")
	v.SetDefault("socket_path", "")
	v.SetDefault("ws_addr", "")
	v.SetDefault("ws_origins", []string{})
	v.SetDefault("amqp_url", "")
	v.SetDefault("amqp_queue", "sequent.entries")
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("export_dir", "")
}

// Load reads configuration. file may be empty; dotenv names a .env file to
// load first and is ignored when missing.
func Load(file, dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// The API key is usually exported under the provider's own name.
	if err := v.BindEnv("gemini_api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY", "API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind api key: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
		if ext := strings.TrimPrefix(filepath.Ext(file), "."); ext == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// Validate checks values that would otherwise fail deep inside a session.
func (c Config) Validate() error {
	if c.IntervalMs <= 0 {
		return fmt.Errorf("interval_ms must be positive, got %d", c.IntervalMs)
	}
	if c.TickMs <= 0 || c.TickMs > c.IntervalMs {
		return fmt.Errorf("tick_ms must be between 1 and interval_ms, got %d", c.TickMs)
	}
	if _, err := c.Languages(); err != nil {
		return err
	}
	switch c.Device {
	case DeviceFFmpeg, DeviceStdin, DeviceSynthetic:
	case DeviceFile:
		if c.InputPath == "" {
			return errors.New("device file needs input_path")
		}
	default:
		return fmt.Errorf("unknown device %q", c.Device)
	}
	if c.MaxInFlight < 0 {
		return fmt.Errorf("max_in_flight must not be negative, got %d", c.MaxInFlight)
	}
	return nil
}

// Languages parses the configured language pair.
func (c Config) Languages() (lang.Pair, error) {
	source, err := lang.Parse(c.SourceLang)
	if err != nil {
		return lang.Pair{}, fmt.Errorf("source_lang: %w", err)
	}
	target, err := lang.Parse(c.TargetLang)
	if err != nil {
		return lang.Pair{}, fmt.Errorf("target_lang: %w", err)
	}
	return lang.Pair{Source: source, Target: target}, nil
}

func (c Config) Interval() time.Duration { return time.Duration(c.IntervalMs) * time.Millisecond }

func (c Config) TickEvery() time.Duration { return time.Duration(c.TickMs) * time.Millisecond }

func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutMs) * time.Millisecond
}

// Format is the PCM format requested from the device.
func (c Config) Format() capture.Format {
	f := capture.DefaultFormat
	if c.SampleRate > 0 {
		f.SampleRate = c.SampleRate
	}
	return f
}

// OpenDevice builds the configured capture device.
func (c Config) OpenDevice() (capture.Device, error) {
	switch c.Device {
	case DeviceFFmpeg:
		d := capture.NewFFmpeg(c.FFmpegPath, c.FFmpegFormat, c.FFmpegInput)
		d.Format = c.Format()
		return d, nil
	case DeviceStdin:
		return capture.NewStdin(c.Format()), nil
	case DeviceFile:
		return capture.NewPath(c.InputPath, c.Format()), nil
	case DeviceSynthetic:
		return capture.NewSynthetic(c.Format().SampleRate * 2), nil
	default:
		return nil, fmt.Errorf("unknown device %q", c.Device)
	}
}
