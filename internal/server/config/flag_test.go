package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "Test1 OK", args: []string{"cmd",
			"-a", "127.0.0.1:9090", "-d", "db", "-s", "secret", "-S", "refresh-secret",
			"-t", "1", "-r", "3", "-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
			"-lockout-attempts", "7", "-lockout-duration", "1m",
			"-gen-backend", "gemini", "-gen-url", "http://gen", "-gen-model", "gemini-1.5-flash",
			"-gen-timeout", "5s", "-gemini-key", "key",
			"-sweep-interval", "10m", "-log-level", "debug", "-log-format", "zap",
		}, expectPanic: false,
			expected: &Config{
				HTTPAddr:                     "127.0.0.1:9090",
				DatabaseDSN:                  "db",
				AccessTokenSecret:            "secret",
				RefreshTokenSecret:           "refresh-secret",
				AccessTokenValidityDuration:  1 * time.Minute,
				RefreshTokenValidityDuration: 3 * time.Minute,
				LockoutMaxAttempts:           7,
				LockoutDuration:              time.Minute,
				GenerationBackend:            "gemini",
				GenerationURL:                "http://gen",
				GenerationModel:              "gemini-1.5-flash",
				GenerationTimeout:            5 * time.Second,
				GeminiAPIKey:                 "key",
				S3RootUser:                   "user",
				S3RootPassword:               "password",
				S3Bucket:                     "bucket",
				S3Region:                     "us-west-1",
				S3BaseEndpoint:               "http://endpoint",
				SweepInterval:                10 * time.Minute,
				LogLevel:                     "debug",
				LogFormat:                    "zap",
			}},
		{name: "config flag is ignored", args: []string{"cmd", "-c", "cfg.json", "-a", ":1"},
			expected: &Config{HTTPAddr: ":1"}},
		{name: "bad duration panics", args: []string{"cmd", "-gen-timeout", "soon"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
