package httpserver

import "time"

const (
	defaultMaxUploadBytes  = int64(10 << 20)
	defaultSignupGrant     = int64(3)
	defaultListLimit       = 20
	maxListLimit           = 100
	shutdownTimeout        = 5 * time.Second
	accountIDContextKey    = "account_id"
	authorizationHeader    = "Authorization"
	bearerScheme           = "Bearer "
	signupGrantKeyPrefix   = "signup:"
	transactionsKindFilter = "purchases"
)

// Config carries the HTTP boundary settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	SessionSecret  string
	WebhookSecret  string
	MaxUploadBytes int64
	SignupGrant    int64
}

func (config Config) maxUploadBytes() int64 {
	if config.MaxUploadBytes <= 0 {
		return defaultMaxUploadBytes
	}
	return config.MaxUploadBytes
}

func (config Config) signupGrant() int64 {
	if config.SignupGrant <= 0 {
		return defaultSignupGrant
	}
	return config.SignupGrant
}
