package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/flagx"
)

var knownFlags = []string{
	"-a", "-d", "-s", "-S", "-t", "-r", "-u", "-p", "-b", "-g", "-e",
	"-lockout-attempts", "-lockout-duration",
	"-gen-backend", "-gen-url", "-gen-model", "-gen-timeout", "-gemini-key",
	"-sweep-interval", "-log-level", "-log-format",
}

// parseFlags populates Config fields from command-line flags.
//
// Short flags:
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN ("" for in-memory storage)
//	-s string   access token HMAC secret
//	-S string   refresh token HMAC secret
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Long flags: -lockout-attempts, -lockout-duration, -gen-backend, -gen-url,
// -gen-model, -gen-timeout, -gemini-key, -sweep-interval, -log-level,
// -log-format.
//
// os.Args is filtered with flagx.FilterArgs first, so -c/-config and -env
// do not trip the parser.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AccessTokenSecret, "s", config.AccessTokenSecret, "access token secret key")
	fs.StringVar(&config.RefreshTokenSecret, "S", config.RefreshTokenSecret, "refresh token secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 transcript bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.IntVar(&config.LockoutMaxAttempts, "lockout-attempts", config.LockoutMaxAttempts, "failed logins before lockout")
	fs.DurationVar(&config.LockoutDuration, "lockout-duration", config.LockoutDuration, "lockout duration")
	fs.StringVar(&config.GenerationBackend, "gen-backend", config.GenerationBackend, "reply generator backend (http|gemini)")
	fs.StringVar(&config.GenerationURL, "gen-url", config.GenerationURL, "reply generator URL")
	fs.StringVar(&config.GenerationModel, "gen-model", config.GenerationModel, "reply generator model name")
	fs.DurationVar(&config.GenerationTimeout, "gen-timeout", config.GenerationTimeout, "reply generator timeout")
	fs.StringVar(&config.GeminiAPIKey, "gemini-key", config.GeminiAPIKey, "Gemini API key")
	fs.DurationVar(&config.SweepInterval, "sweep-interval", config.SweepInterval, "expired credential sweep interval (0 disables)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format (json|text|zap|zap-dev)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
}
