package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the struct that holds the configuration of the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Telegraph  TelegraphConfig  `mapstructure:"telegraph"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Transcode  TranscodeConfig  `mapstructure:"transcode"`
	RabbitMq   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	WebPanel   WebPanelConfig   `mapstructure:"webpanel"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel int    `mapstructure:"log_level"`
	Env      string `mapstructure:"env"`
	JSON     bool   `mapstructure:"json"`
}

type TelegraphConfig struct {
	Host      string `mapstructure:"host"`
	APIBase   string `mapstructure:"api_base"`
	FileBase  string `mapstructure:"file_base"`
	Source    string `mapstructure:"source"`
	UserAgent string `mapstructure:"user_agent"`
}

type DownloaderConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Folder      string        `mapstructure:"folder"`
	Mode        string        `mapstructure:"mode"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	ByTitle     bool          `mapstructure:"by_title"`
	Dedupe      bool          `mapstructure:"dedupe"`
	Progress    bool          `mapstructure:"progress"`
}

type TranscodeConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Encoder    string `mapstructure:"encoder"`
	Quality    int    `mapstructure:"quality"`
	Workers    int    `mapstructure:"workers"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
}

type RabbitMQConfig struct {
	URL              string        `mapstructure:"url"`
	Exchange         ExchangeNames `mapstructure:"exchange"`
	Queue            QueueNames    `mapstructure:"queue"`
	ReconnectRetries int           `mapstructure:"reconnect_retries"`
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout"`
	Publish          bool          `mapstructure:"publish"`
}

type ExchangeNames struct {
	Task string `mapstructure:"task"`
	Log  string `mapstructure:"log"`
}

type QueueNames struct {
	DownloaderQueue string `mapstructure:"downloader_queue"`
	LogQueue        string `mapstructure:"log_queue"`
}

type WorkerConfig struct {
	Jobs int `mapstructure:"jobs"`
}

type WebPanelConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Dispatch string `mapstructure:"dispatch"`
}

// Source values for TelegraphConfig.Source.
const (
	SourceAPI  = "api"
	SourceHTML = "html"
	SourceAuto = "auto"
)

// Encoder values for TranscodeConfig.Encoder.
const (
	EncoderNative = "native"
	EncoderFFmpeg = "ffmpeg"
)

// Dispatch values for WebPanelConfig.Dispatch.
const (
	DispatchLocal = "local"
	DispatchQueue = "queue"
)

// flagKeys maps command line flag names onto config keys.
var flagKeys = map[string]string{
	"folder":            "downloader.folder",
	"mode":              "downloader.mode",
	"workers":           "downloader.concurrency",
	"timeout":           "downloader.timeout",
	"rate-limit":        "downloader.rate_limit",
	"by-title":          "downloader.by_title",
	"dedupe":            "downloader.dedupe",
	"progress":          "downloader.progress",
	"compress":          "transcode.enabled",
	"encoder":           "transcode.encoder",
	"quality":           "transcode.quality",
	"transcode-workers": "transcode.workers",
	"source":            "telegraph.source",
	"json":              "app.json",
	"publish":           "rabbitmq.publish",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "teledl")
	v.SetDefault("app.log_level", 4) // logrus.InfoLevel
	v.SetDefault("app.env", "production")
	v.SetDefault("app.json", false)

	v.SetDefault("telegraph.host", "telegra.ph")
	v.SetDefault("telegraph.api_base", "https://api.telegra.ph")
	v.SetDefault("telegraph.file_base", "https://telegra.ph/file/")
	v.SetDefault("telegraph.source", SourceAPI)
	v.SetDefault("telegraph.user_agent", "teledl/2.0")

	v.SetDefault("downloader.concurrency", 50)
	v.SetDefault("downloader.folder", ".")
	v.SetDefault("downloader.mode", "ordered")
	v.SetDefault("downloader.timeout", 30*time.Second)
	v.SetDefault("downloader.rate_limit", 0)
	v.SetDefault("downloader.by_title", false)
	v.SetDefault("downloader.dedupe", false)
	v.SetDefault("downloader.progress", false)

	v.SetDefault("transcode.enabled", false)
	v.SetDefault("transcode.encoder", EncoderNative)
	v.SetDefault("transcode.quality", 80)
	v.SetDefault("transcode.workers", runtime.NumCPU())
	v.SetDefault("transcode.ffmpeg_path", "ffmpeg")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange.task", "teledl.task")
	v.SetDefault("rabbitmq.exchange.log", "teledl.log")
	v.SetDefault("rabbitmq.queue.downloader_queue", "teledl_downloader")
	v.SetDefault("rabbitmq.queue.log_queue", "teledl_log")
	v.SetDefault("rabbitmq.reconnect_retries", 5)
	v.SetDefault("rabbitmq.reconnect_timeout", 2*time.Second)
	v.SetDefault("rabbitmq.publish", false)

	v.SetDefault("worker.jobs", 2)

	v.SetDefault("webpanel.host", "0.0.0.0")
	v.SetDefault("webpanel.port", 8080)
	v.SetDefault("webpanel.dispatch", DispatchLocal)
}

// Load reads config.json (or configFile when set), the .env file, TELEDL_*
// environment variables and, when flags is not nil, the command line flags.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TELEDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override dari environment variable jika ada
	if envURL := os.Getenv("RABBITMQ_URL"); envURL != "" {
		config.RabbitMq.URL = envURL
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Downloader.Mode {
	case "ordered", "fast":
	default:
		return fmt.Errorf("invalid downloader.mode %q", c.Downloader.Mode)
	}
	if c.Downloader.Concurrency <= 0 {
		return fmt.Errorf("downloader.concurrency must be positive, got %d", c.Downloader.Concurrency)
	}
	if c.Downloader.RateLimit < 0 {
		return fmt.Errorf("downloader.rate_limit must not be negative")
	}
	switch c.Telegraph.Source {
	case SourceAPI, SourceHTML, SourceAuto:
	default:
		return fmt.Errorf("invalid telegraph.source %q", c.Telegraph.Source)
	}
	switch c.Transcode.Encoder {
	case EncoderNative, EncoderFFmpeg:
	default:
		return fmt.Errorf("invalid transcode.encoder %q", c.Transcode.Encoder)
	}
	if c.Transcode.Quality < 1 || c.Transcode.Quality > 100 {
		return fmt.Errorf("transcode.quality must be within 1..100, got %d", c.Transcode.Quality)
	}
	if c.Transcode.Workers <= 0 {
		return fmt.Errorf("transcode.workers must be positive, got %d", c.Transcode.Workers)
	}
	switch c.WebPanel.Dispatch {
	case DispatchLocal, DispatchQueue:
	default:
		return fmt.Errorf("invalid webpanel.dispatch %q", c.WebPanel.Dispatch)
	}
	return nil
}

// Get config for app
func (c *Config) GetAppConfig() *AppConfig {
	return &c.App
}

// Get config for telegraph
func (c *Config) GetTelegraphConfig() *TelegraphConfig {
	return &c.Telegraph
}

// Get config for downloader
func (c *Config) GetDownloaderConfig() *DownloaderConfig {
	return &c.Downloader
}

// Get config for transcoder
func (c *Config) GetTranscodeConfig() *TranscodeConfig {
	return &c.Transcode
}

// Get config for web panel
func (c *Config) GetWebPanelConfig() *WebPanelConfig {
	return &c.WebPanel
}

// Get config for RabbitMQ
func (c *Config) GetRabbitMQConfig() *RabbitMQConfig {
	return &c.RabbitMq
}
