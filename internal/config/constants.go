package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Staff console sessions
const StaffSessionTTL = 24 * time.Hour

// WhatsApp webhook: replies per sender per window
const (
	WhatsAppRateLimitPerMin = 20
	WhatsAppRateLimitWindow = time.Minute
)

// Upstream calls (LLM, WhatsApp, SMTP)
const UpstreamTimeout = 30 * time.Second

// Maximum accepted PDF upload
const MaxPDFUploadSize = 20 << 20

// Staff console login attempts per IP
const (
	StaffLoginRateLimit  = 5
	StaffLoginRateWindow = time.Minute
)

// Request body limits
const (
	MaxJSONBodySize = 1 << 20
)
