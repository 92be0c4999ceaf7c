package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/flagx"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "CHATKEEPER_"

// parseEnv loads a dotenv file (path from -env, default ".env") into the
// process environment without overriding variables that are already set,
// then copies every CHATKEEPER_* variable that is present into config.
//
// A missing dotenv file is not an error. Unparseable values panic, the same
// way a broken JSON file does.
func parseEnv(config *Config) {
	envFile := flagx.EnvFileFlags()
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	envString(&config.HTTPAddr, "HTTP_ADDR")
	envString(&config.DatabaseDSN, "DATABASE_DSN")
	envString(&config.AccessTokenSecret, "ACCESS_TOKEN_SECRET")
	envString(&config.RefreshTokenSecret, "REFRESH_TOKEN_SECRET")
	envDuration(&config.AccessTokenValidityDuration, "ACCESS_TOKEN_TTL")
	envDuration(&config.RefreshTokenValidityDuration, "REFRESH_TOKEN_TTL")
	envInt(&config.LockoutMaxAttempts, "LOCKOUT_MAX_ATTEMPTS")
	envDuration(&config.LockoutDuration, "LOCKOUT_DURATION")
	envString(&config.GenerationBackend, "GENERATION_BACKEND")
	envString(&config.GenerationURL, "GENERATION_URL")
	envString(&config.GenerationModel, "GENERATION_MODEL")
	envDuration(&config.GenerationTimeout, "GENERATION_TIMEOUT")
	envString(&config.GeminiAPIKey, "GEMINI_API_KEY")
	envString(&config.S3RootUser, "S3_ROOT_USER")
	envString(&config.S3RootPassword, "S3_ROOT_PASSWORD")
	envString(&config.S3Bucket, "S3_BUCKET")
	envString(&config.S3Region, "S3_REGION")
	envString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
	envDuration(&config.SweepInterval, "SWEEP_INTERVAL")
	envString(&config.LogLevel, "LOG_LEVEL")
	envString(&config.LogFormat, "LOG_FORMAT")
}

func envString(dst *string, name string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		*dst = v
	}
}

func envDuration(dst *time.Duration, name string) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
	}
	*dst = d
}

func envInt(dst *int, name string) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
	}
	*dst = n
}
