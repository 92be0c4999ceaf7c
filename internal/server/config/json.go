package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/flagx"
	"github.com/dmitrijs2005/chatkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the optional JSON config file.
// Duration fields go through timex.Duration, so both "15m" and integer
// nanoseconds are accepted.
type JsonConfig struct {
	HTTPAddr                     string          `json:"http_addr"`
	DatabaseDSN                  *string         `json:"database_dsn"`
	AccessTokenSecret            string          `json:"access_token_secret"`
	RefreshTokenSecret           string          `json:"refresh_token_secret"`
	AccessTokenValidityDuration  timex.Duration  `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration  `json:"refresh_token_validity_duration"`
	LockoutMaxAttempts           int             `json:"lockout_max_attempts"`
	LockoutDuration              timex.Duration  `json:"lockout_duration"`
	GenerationBackend            string          `json:"generation_backend"`
	GenerationURL                string          `json:"generation_url"`
	GenerationModel              string          `json:"generation_model"`
	GenerationTimeout            timex.Duration  `json:"generation_timeout"`
	GeminiAPIKey                 string          `json:"gemini_api_key"`
	S3RootUser                   string          `json:"s3_root_user"`
	S3RootPassword               string          `json:"s3_root_password"`
	S3Bucket                     string          `json:"s3_bucket"`
	S3Region                     string          `json:"s3_region"`
	S3BaseEndpoint               string          `json:"s3_base_endpoint"`
	SweepInterval                *timex.Duration `json:"sweep_interval"`
	LogLevel                     string          `json:"log_level"`
	LogFormat                    string          `json:"log_format"`
}

// parseJson overlays values from the JSON file named by -c / -config.
// Absent or zero fields keep their current value; database_dsn and
// sweep_interval are pointers so that "" and "0s" can be set explicitly.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	setString(&config.AccessTokenSecret, c.AccessTokenSecret)
	setString(&config.RefreshTokenSecret, c.RefreshTokenSecret)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	if c.LockoutMaxAttempts > 0 {
		config.LockoutMaxAttempts = c.LockoutMaxAttempts
	}
	setDuration(&config.LockoutDuration, c.LockoutDuration)
	setString(&config.GenerationBackend, c.GenerationBackend)
	setString(&config.GenerationURL, c.GenerationURL)
	setString(&config.GenerationModel, c.GenerationModel)
	setDuration(&config.GenerationTimeout, c.GenerationTimeout)
	setString(&config.GeminiAPIKey, c.GeminiAPIKey)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.SweepInterval != nil {
		config.SweepInterval = c.SweepInterval.Duration
	}
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
