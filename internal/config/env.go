package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StoreEnv struct {
	Type    string `envconfig:"STORE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORE_BASE_DIR" default:".claimboard/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"claimboard/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
	// Postgres settings (used when Type == "postgres")
	PostgresURL string `envconfig:"POSTGRES_URL"`
}

type ClaimEnv struct {
	LeaseDuration time.Duration `envconfig:"LEASE_DURATION" default:"60m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
}

type HookEnv struct {
	ConfigPath     string        `envconfig:"HOOK_CONFIG_PATH" default:".claimboard/hooks.conf"`
	DefaultTimeout time.Duration `envconfig:"HOOK_DEFAULT_TIMEOUT" default:"30s"`
	WorkDir        string        `envconfig:"HOOK_WORK_DIR" default:"."`
}

type Env struct {
	BaseEnv
	StoreEnv
	ClaimEnv
	HookEnv
}

const namespace = "CLAIMBOARD"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
