package mailcapture

// Config holds configuration for the mail capture server
type Config struct {
	// Port is the port to listen on for SMTP connections. 0 picks a free port.
	Port int

	// Host is the hostname to listen on (default: localhost)
	Host string

	// MaxMessages bounds the in-memory inbox; the oldest messages are dropped first
	MaxMessages int
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Port:        1025,
		Host:        "localhost",
		MaxMessages: 100,
	}
}
