package consts

import "time"

// Version is reported in the User-Agent of every request and by the CLI.
var Version = "0.1.0-dev"

// Service defaults
const (
	// DefaultServicePort is the port the tester service listens on by default
	DefaultServicePort = 12580
	// DefaultJUnitVersion is the JUnit version assumed when none is configured
	DefaultJUnitVersion = "5"
	// DefaultIdleTimeout bounds the silence between two frames of a session
	DefaultIdleTimeout = Timeout10Minutes
)

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// Timeouts for various operations
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
	// Timeout10Minutes is a 10 minute timeout
	Timeout10Minutes = 10 * time.Minute
)

// Polling intervals
const (
	// BackendPollInterval is how often a launched backend is probed for readiness
	BackendPollInterval = 100 * time.Millisecond
	// WebPingInterval is the websocket keepalive period of the web view
	WebPingInterval = 30 * time.Second
)
