package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	JWTSecret string
	JWTIssuer string

	OTPTTL        time.Duration
	OTPLength     int
	OTPMaxRetries int
	LockoutWindow time.Duration

	SessionIdleTimeout time.Duration
	DeviceTokenTTL     time.Duration
	TokenRefreshWindow time.Duration

	StepUpAccessLevel int
	MinPasswordLength int

	CookieSecure bool
	CookieDomain string

	SMSGatewayURL   string
	SMSGatewayToken string
}

func Load() Config {
	return Config{
		HTTPAddr:           getenv("HTTP_ADDR", ":8084"),
		// Empty means the in-process store: local development only.
		DatabaseURL:        getenv("DATABASE_URL", ""),
		RedisAddr:          getenv("REDIS_ADDR", ""),
		RedisPassword:      getenv("REDIS_PASSWORD", ""),
		JWTSecret:          getenv("JWT_SECRET", "dev-secret"),
		JWTIssuer:          getenv("JWT_ISSUER", "pcit-portal-auth"),
		OTPTTL:             getenvDuration("OTP_TTL", 600*time.Second),
		OTPLength:          getenvInt("OTP_LENGTH", 6),
		OTPMaxRetries:      getenvInt("OTP_MAX_RETRIES", 3),
		LockoutWindow:      getenvDuration("LOCKOUT_WINDOW", 1800*time.Second),
		SessionIdleTimeout: getenvDuration("SESSION_IDLE_TIMEOUT", 1800*time.Second),
		DeviceTokenTTL:     getenvDuration("DEVICE_TOKEN_TTL", 90*24*time.Hour),
		TokenRefreshWindow: getenvDuration("TOKEN_REFRESH_WINDOW", 7*24*time.Hour),
		StepUpAccessLevel:  getenvInt("STEPUP_ACCESS_LEVEL", 3),
		MinPasswordLength:  getenvInt("MIN_PASSWORD_LENGTH", 8),
		CookieSecure:       getenvBool("COOKIE_SECURE", true),
		CookieDomain:       getenv("COOKIE_DOMAIN", ""),
		SMSGatewayURL:      getenv("SMS_GATEWAY_URL", ""),
		SMSGatewayToken:    getenv("SMS_GATEWAY_TOKEN", ""),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
