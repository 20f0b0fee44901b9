package client

import (
	"time"

	"github.com/bleq/bleq/client/transport"
)

// TransportType selects a transport driver implementation.
type TransportType string

const (
	TransportTypeWS    TransportType = "ws"
	TransportTypeBlueZ TransportType = "bluez"
)

// TimeoutsConfig holds per-kind operation deadlines. Connection
// establishment is materially longer than a single GATT exchange because
// connect attempts intentionally wait for device availability.
type TimeoutsConfig struct {
	Connect    time.Duration `yaml:"connect"`
	Disconnect time.Duration `yaml:"disconnect"`
	Operation  time.Duration `yaml:"operation"`
}

// LongWriteConfig governs chunked writes.
type LongWriteConfig struct {
	// ChunkSize is the fallback chunk size used when the MTU has not been
	// negotiated and the caller did not override it.
	ChunkSize int `yaml:"chunk_size"`

	// MaxChunkSize caps the chunk size regardless of negotiated MTU.
	MaxChunkSize int `yaml:"max_chunk_size"`

	// MaxAttempts is the total number of times a single chunk is executed
	// before the whole job fails.
	MaxAttempts int `yaml:"max_attempts"`

	// RequireAck refuses long writes that do not provide an external
	// acknowledgement gate.
	RequireAck bool `yaml:"require_ack"`
}

type WSConfig struct {
	URL string `yaml:"url"`
}

type BlueZConfig struct {
	Adapter string `yaml:"adapter"`
}

type TransportConfig struct {
	Type  TransportType `yaml:"type"`
	WS    WSConfig      `yaml:"ws"`
	BlueZ BlueZConfig   `yaml:"bluez"`
}

type MetricsConfig struct {
	BindAddr string `yaml:"bind_addr"`
}

type Config struct {
	Device    string          `yaml:"device"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	LongWrite LongWriteConfig `yaml:"long_write"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

const (
	// defaultMTU is the ATT default when nothing has been negotiated.
	defaultMTU = 23

	// defaultChunkSize is defaultMTU minus the 3-byte ATT write header.
	defaultChunkSize = defaultMTU - 3

	// maxChunkSize is the largest attribute value length permitted.
	maxChunkSize = 512
)

func (c TimeoutsConfig) forKind(kind transport.Kind) time.Duration {
	switch kind {
	case transport.KindConnect:
		return c.Connect
	case transport.KindDisconnect:
		return c.Disconnect
	default:
		return c.Operation
	}
}
