package websocket

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxFrameSize     int64 = 16 << 20 // 16 MiB
	defaultMaxMessageSize   int64 = 64 << 20 // 64 MiB
	defaultCloseGrace             = 500 * time.Millisecond
	defaultHandshakeTimeout       = 5 * time.Second

	// compressThreshold is the payload size (in bytes) above which the
	// writer pipeline bothers compressing a message at all. Below it, the
	// DEFLATE block + header overhead reliably outweighs the savings, so
	// compression is skipped — without ever touching RSV1 semantics for
	// the frame that does cross the threshold (see writer.shouldCompress).
	compressThreshold = 32
)

// SessionConfig configures a Session. Every field has a documented
// default; the zero value of SessionConfig is invalid only in that Role
// must be set explicitly by the caller (the Upgrader/Dialer paths do this
// for you).
type SessionConfig struct {
	Role Role

	// MaxFrameSize bounds a single inbound frame's payload. Zero means
	// use the 16 MiB default; a negative value disables the bound.
	MaxFrameSize int64

	// MaxMessageSize bounds one reassembled message. Zero means use the
	// 64 MiB default; a negative value disables the bound.
	MaxMessageSize int64

	// Extension holds the negotiated permessage-deflate parameters, or
	// its zero value (PermessageDeflate: false) if compression was not
	// negotiated.
	Extension ExtensionParams

	// CompressionLevel is the flate compression level (-2..9) used by
	// the outbound DeflateContext. Zero means use the package default.
	CompressionLevel int

	// CloseGrace bounds how long close_connection waits for the peer's
	// answering Close frame. Zero means use the 500ms default.
	CloseGrace time.Duration

	// FrameReadTimeout bounds each frame's payload read. Zero means use
	// the 5s default; a negative value disables the bound.
	FrameReadTimeout time.Duration

	// HandshakeTimeout is carried for configuration files
	// (handshake_timeout_ms) but nothing in the package reads it: the
	// opening HTTP exchange is bounded by Upgrader.HandshakeTimeout and
	// Dialer.HandshakeTimeout (5s when zero), not by this field.
	HandshakeTimeout time.Duration

	// OnPong, if set, is invoked by the reader pipeline whenever a Pong
	// frame is observed, in place of silently ignoring it.
	OnPong func(payload []byte)

	// Logf, if set, receives low-volume operational diagnostics (e.g.
	// "sent best-effort close after read error"). The engine never logs
	// on its own otherwise; wiring a real structured logger here is the
	// host's responsibility.
	Logf func(format string, args ...any)
}

func (c SessionConfig) maxFrameSize() int64 {
	switch {
	case c.MaxFrameSize < 0:
		return 0
	case c.MaxFrameSize == 0:
		return defaultMaxFrameSize
	default:
		return c.MaxFrameSize
	}
}

func (c SessionConfig) maxMessageSize() int64 {
	switch {
	case c.MaxMessageSize < 0:
		return 0
	case c.MaxMessageSize == 0:
		return defaultMaxMessageSize
	default:
		return c.MaxMessageSize
	}
}

func (c SessionConfig) closeGrace() time.Duration {
	if c.CloseGrace == 0 {
		return defaultCloseGrace
	}
	return c.CloseGrace
}

func (c SessionConfig) frameReadTimeout() time.Duration {
	if c.FrameReadTimeout == 0 {
		return defaultFrameReadTimeout
	}
	if c.FrameReadTimeout < 0 {
		return 0
	}
	return c.FrameReadTimeout
}

func (c SessionConfig) compressionLevel() int {
	if c.CompressionLevel == 0 {
		return defaultCompressionLevel
	}
	return c.CompressionLevel
}

func (c SessionConfig) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// yamlSessionConfig mirrors SessionConfig's tunable fields in a form
// suitable for declarative configuration files. Role and handler hooks
// (OnPong, Logf) are necessarily set in code, not YAML.
type yamlSessionConfig struct {
	MaxFrameSize        int64 `yaml:"max_frame_size"`
	MaxMessageSize      int64 `yaml:"max_message_size"`
	PermessageDeflate   bool  `yaml:"permessage_deflate"`
	ClientNoTakeover    bool  `yaml:"client_no_context_takeover"`
	ServerNoTakeover    bool  `yaml:"server_no_context_takeover"`
	ClientMaxWindowBits int   `yaml:"client_max_window_bits"`
	ServerMaxWindowBits int   `yaml:"server_max_window_bits"`
	CompressionLevel    int   `yaml:"compression_level"`
	CloseGraceMillis    int   `yaml:"close_grace_ms"`
	FrameReadTimeoutMs  int   `yaml:"frame_read_timeout_ms"`
	HandshakeTimeoutMs  int   `yaml:"handshake_timeout_ms"`
}

// LoadSessionConfig reads a YAML document describing the tunable fields
// of SessionConfig. Role must still be assigned by the caller after
// loading, since a config file doesn't know whether it will be handed to
// an Upgrader or a Dialer.
func LoadSessionConfig(path string) (SessionConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SessionConfig{}, err
	}
	return ParseSessionConfig(raw)
}

// ParseSessionConfig parses a YAML document (see LoadSessionConfig) from
// an in-memory buffer.
func ParseSessionConfig(raw []byte) (SessionConfig, error) {
	var y yamlSessionConfig
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return SessionConfig{}, err
	}

	cfg := SessionConfig{
		MaxFrameSize:     y.MaxFrameSize,
		MaxMessageSize:   y.MaxMessageSize,
		CompressionLevel: y.CompressionLevel,
		CloseGrace:       time.Duration(y.CloseGraceMillis) * time.Millisecond,
		FrameReadTimeout: time.Duration(y.FrameReadTimeoutMs) * time.Millisecond,
		HandshakeTimeout: time.Duration(y.HandshakeTimeoutMs) * time.Millisecond,
	}

	if y.PermessageDeflate {
		cfg.Extension = ExtensionParams{
			PermessageDeflate:       true,
			ClientNoContextTakeover: y.ClientNoTakeover,
			ServerNoContextTakeover: y.ServerNoTakeover,
			ClientMaxWindowBits:     y.ClientMaxWindowBits,
			ServerMaxWindowBits:     y.ServerMaxWindowBits,
		}
		if cfg.Extension.ClientMaxWindowBits == 0 {
			cfg.Extension.ClientMaxWindowBits = maxWindowBits
		}
		if cfg.Extension.ServerMaxWindowBits == 0 {
			cfg.Extension.ServerMaxWindowBits = maxWindowBits
		}
	}

	return cfg, nil
}
