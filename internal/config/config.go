package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. PARKEDGE_DB_PATH.
const EnvPrefix = "PARKEDGE"

// Keys shared by flags, environment and config files.
const (
	KeyConfigFile = "config"
	KeyEnvFile    = "env_file"

	KeyHTTPAddr  = "http_addr"
	KeyProbeAddr = "probe_addr"
	KeyEnv       = "env"
	KeyLogLevel  = "log_level"
	KeyLogFormat = "log_format"

	KeyDBPath      = "db_path"
	KeyLockTimeout = "lock_timeout"
	KeyImagesDir   = "images_dir"

	KeyAPIEndpoint    = "api_endpoint"
	KeyUID            = "uid"
	KeyEncoding       = "transport_encoding"
	KeyConnectTimeout = "connect_timeout"
	KeyReadTimeout    = "read_timeout"
	KeyMaxAttempts    = "max_attempts"
	KeyRetryDelay     = "retry_delay"

	KeySyncWait       = "sync_wait"
	KeySyncBackoff    = "sync_backoff"
	KeySyncErrorPause = "sync_error_pause"

	KeyRetentionDays = "evidence_retention_days"
	KeyPruneInterval = "prune_interval_hours"

	KeyReader        = "reader"
	KeySpoolDir      = "spool_dir"
	KeyActuator      = "actuator"
	KeyGPIOPath      = "gpio_path"
	KeyCamera        = "camera"
	KeySnapshotPath  = "snapshot_path"
	KeyRecognizer    = "recognizer"
	KeyRecognizerURL = "recognizer_url"
	KeyStaticPlate   = "static_plate"
	KeyCameraTimeout = "camera_timeout"
	KeyBlink         = "blink_duration"
	KeyGatePause     = "gate_pause"
	KeyLiveViewPath  = "live_view_path"
)

type Config struct {
	HTTPAddr  string
	ProbeAddr string // "" disables the gRPC health probe

	Env       string // "dev" | "prod"
	LogLevel  string // debug | info | warn | error
	LogFormat string // text | json

	// Ledger
	DBPath      string
	LockTimeout time.Duration
	ImagesDir   string

	// Remote authority
	APIEndpoint    string
	UID            string
	Encoding       string // json | protobuf
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration

	// Sync worker
	SyncWait       time.Duration
	SyncBackoff    time.Duration
	SyncErrorPause time.Duration

	// Evidence retention
	EvidenceRetentionDays int // 0 = keep forever
	PruneIntervalHours    int

	// Gate hardware
	Reader        string // stdin | spool
	SpoolDir      string
	Actuator      string // log | gpio
	GPIOPath      string
	Camera        string // snapshot | none
	SnapshotPath  string
	Recognizer    string // static | http
	RecognizerURL string
	StaticPlate   string
	CameraTimeout time.Duration
	BlinkDuration time.Duration
	GatePause     time.Duration
	LiveViewPath  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyProbeAddr, ":9090")
	v.SetDefault(KeyEnv, "dev")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	v.SetDefault(KeyDBPath, "parking_data.db")
	v.SetDefault(KeyLockTimeout, 15*time.Second)
	v.SetDefault(KeyImagesDir, "picture")

	v.SetDefault(KeyAPIEndpoint, "http://localhost:3000/api/events/submit")
	v.SetDefault(KeyEncoding, "json")
	v.SetDefault(KeyConnectTimeout, 10*time.Second)
	v.SetDefault(KeyReadTimeout, 30*time.Second)
	v.SetDefault(KeyMaxAttempts, 3)
	v.SetDefault(KeyRetryDelay, 2*time.Second)

	v.SetDefault(KeySyncWait, 60*time.Second)
	v.SetDefault(KeySyncBackoff, 500*time.Millisecond)
	v.SetDefault(KeySyncErrorPause, 30*time.Second)

	v.SetDefault(KeyRetentionDays, 0)
	v.SetDefault(KeyPruneInterval, 6)

	v.SetDefault(KeyReader, "stdin")
	v.SetDefault(KeySpoolDir, "spool")
	v.SetDefault(KeyActuator, "log")
	v.SetDefault(KeyCamera, "snapshot")
	v.SetDefault(KeySnapshotPath, "frame.jpg")
	v.SetDefault(KeyRecognizer, "static")
	v.SetDefault(KeyCameraTimeout, 5*time.Second)
	v.SetDefault(KeyBlink, 2*time.Second)
	v.SetDefault(KeyGatePause, time.Second)
}

// Load reads configuration with the precedence flags > environment >
// config file > .env > defaults. fs may be nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			// --db-path binds db_path
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return Config{}, bindErr
		}
	}

	envFile := v.GetString(KeyEnvFile)
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) Config {
	env := strings.ToLower(strings.TrimSpace(v.GetString(KeyEnv)))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr:  v.GetString(KeyHTTPAddr),
		ProbeAddr: strings.TrimSpace(v.GetString(KeyProbeAddr)),
		Env:       env,
		LogLevel:  strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat: strings.ToLower(v.GetString(KeyLogFormat)),

		DBPath:      v.GetString(KeyDBPath),
		LockTimeout: v.GetDuration(KeyLockTimeout),
		ImagesDir:   v.GetString(KeyImagesDir),

		APIEndpoint:    strings.TrimSpace(v.GetString(KeyAPIEndpoint)),
		UID:            strings.TrimSpace(v.GetString(KeyUID)),
		Encoding:       strings.ToLower(v.GetString(KeyEncoding)),
		ConnectTimeout: v.GetDuration(KeyConnectTimeout),
		ReadTimeout:    v.GetDuration(KeyReadTimeout),
		MaxAttempts:    nonNegative(v.GetInt(KeyMaxAttempts), 3),
		RetryDelay:     v.GetDuration(KeyRetryDelay),

		SyncWait:       v.GetDuration(KeySyncWait),
		SyncBackoff:    v.GetDuration(KeySyncBackoff),
		SyncErrorPause: v.GetDuration(KeySyncErrorPause),

		EvidenceRetentionDays: nonNegative(v.GetInt(KeyRetentionDays), 0),
		PruneIntervalHours:    nonNegative(v.GetInt(KeyPruneInterval), 6),

		Reader:        strings.ToLower(v.GetString(KeyReader)),
		SpoolDir:      v.GetString(KeySpoolDir),
		Actuator:      strings.ToLower(v.GetString(KeyActuator)),
		GPIOPath:      v.GetString(KeyGPIOPath),
		Camera:        strings.ToLower(v.GetString(KeyCamera)),
		SnapshotPath:  v.GetString(KeySnapshotPath),
		Recognizer:    strings.ToLower(v.GetString(KeyRecognizer)),
		RecognizerURL: v.GetString(KeyRecognizerURL),
		StaticPlate:   v.GetString(KeyStaticPlate),
		CameraTimeout: v.GetDuration(KeyCameraTimeout),
		BlinkDuration: v.GetDuration(KeyBlink),
		GatePause:     v.GetDuration(KeyGatePause),
		LiveViewPath:  v.GetString(KeyLiveViewPath),
	}
}

// ValidateGate checks the settings the gate process needs beyond the
// dashboard's.
func (c Config) ValidateGate() error {
	var errs []error
	if c.UID == "" {
		errs = append(errs, errors.New("uid is required"))
	}
	if u, err := url.Parse(c.APIEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api_endpoint %q is not an absolute URL", c.APIEndpoint))
	}
	if c.Encoding != "json" && c.Encoding != "protobuf" {
		errs = append(errs, fmt.Errorf("transport_encoding %q: want json or protobuf", c.Encoding))
	}
	if c.Reader != "stdin" && c.Reader != "spool" {
		errs = append(errs, fmt.Errorf("reader %q: want stdin or spool", c.Reader))
	}
	if c.Actuator == "gpio" && c.GPIOPath == "" {
		errs = append(errs, errors.New("gpio_path is required with actuator=gpio"))
	}
	if c.Recognizer == "http" && c.RecognizerURL == "" {
		errs = append(errs, errors.New("recognizer_url is required with recognizer=http"))
	}
	return errors.Join(errs...)
}

func nonNegative(n, def int) int {
	if n < 0 {
		return def
	}
	return n
}
