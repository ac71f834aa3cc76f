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

// Old store clients are closed this long after an admin invalidation so
// in-flight rerenders holding them can finish.
const StoreDrainDelay = ServerRequestTimeout + 5*time.Second

// WebSocket rerender transport
const (
	WSReadTimeout      = 10 * time.Minute
	WSWriteTimeout     = 10 * time.Second
	WSMaxPendingEvents = 64
	WSMaxMessageSize   = 64 << 10
)

// ConnCookie names the cookie that ties HTTP rerenders to one connection cache.
const ConnCookie = "dash_conn"
