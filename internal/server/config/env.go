package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays Config fields from environment variables. A `.env` file
// in the working directory is honored when the binary imports
// godotenv/autoload (see cmd/server).
func parseEnv(config *Config) {
	setString(&config.EndpointAddrHTTP, "ENDPOINT_ADDR_HTTP")
	setString(&config.DatabaseDSN, "DATABASE_DSN")
	setString(&config.RedisAddr, "REDIS_ADDR")
	setString(&config.RedisPassword, "REDIS_PASSWORD")
	setInt(&config.RedisDB, "REDIS_DB")
	setString(&config.S3RootUser, "S3_ROOT_USER")
	setString(&config.S3RootPassword, "S3_ROOT_PASSWORD")
	setString(&config.S3Bucket, "S3_BUCKET")
	setString(&config.S3Region, "S3_REGION")
	setString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
	setDuration(&config.SessionTTL, "SESSION_TTL")
	setDuration(&config.PresignCap, "PRESIGN_CAP")
	setDuration(&config.LiveInterval, "LIVE_INTERVAL")
	setInt(&config.MaxReceiversPerSession, "MAX_RECEIVERS_PER_SESSION")
	setInt(&config.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")
}

func setString(target *string, name string) {
	if v, ok := os.LookupEnv(name); ok {
		*target = v
	}
}

func setInt(target *int, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setDuration(target *time.Duration, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}
