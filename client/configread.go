package client

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

// InitConfig sets defaults. Connect is long on purpose: auto-connect
// semantics wait for the device to come into range.
func InitConfig(c *Config) {
	c.Timeouts.Connect = 35 * time.Second
	c.Timeouts.Disconnect = 10 * time.Second
	c.Timeouts.Operation = 30 * time.Second
	c.LongWrite.ChunkSize = defaultChunkSize
	c.LongWrite.MaxChunkSize = maxChunkSize
	c.LongWrite.MaxAttempts = 3
	c.Transport.Type = TransportTypeWS
	c.Transport.BlueZ.Adapter = "hci0"
}

func ReadConfigFile(filename string, c *Config) (err error) {
	f, err := os.Open(filename)
	if err != nil {
		return errors.Annotatef(err, "read config file: %s", filename)
	}

	defer f.Close()

	err = ReadConfigYAML(f, c)

	return errors.Annotatef(err, "read yaml config: %s", filename)
}

func ReadConfigFiles(filenames []string, c *Config) (err error) {
	for _, filename := range filenames {
		err = ReadConfigFile(filename, c)
		if err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

func ReadConfigYAML(reader io.Reader, c *Config) error {
	decoder := yaml.NewDecoder(reader)
	if err := decoder.Decode(c); err != nil {
		return errors.Annotatef(err, "decode yaml")
	}

	return nil
}

// ReadConfig reads defaults, then the provided files in order, then
// environment variables with the BLEQ_ prefix.
func ReadConfig(filenames []string) (c Config, err error) {
	InitConfig(&c)
	err = ReadConfigFiles(filenames, &c)
	ReadConfigFromEnv("BLEQ_", &c)

	return c, errors.Trace(err)
}

func ReadConfigFromEnv(prefix string, c *Config) {
	setEnvString(&c.Device, prefix+"DEVICE")

	setEnvDuration(&c.Timeouts.Connect, prefix+"TIMEOUT_CONNECT")
	setEnvDuration(&c.Timeouts.Disconnect, prefix+"TIMEOUT_DISCONNECT")
	setEnvDuration(&c.Timeouts.Operation, prefix+"TIMEOUT_OPERATION")

	setEnvInt(&c.LongWrite.ChunkSize, prefix+"LONG_WRITE_CHUNK_SIZE")
	setEnvInt(&c.LongWrite.MaxChunkSize, prefix+"LONG_WRITE_MAX_CHUNK_SIZE")
	setEnvInt(&c.LongWrite.MaxAttempts, prefix+"LONG_WRITE_MAX_ATTEMPTS")
	setEnvBool(&c.LongWrite.RequireAck, prefix+"LONG_WRITE_REQUIRE_ACK")

	setEnvTransportType(&c.Transport.Type, prefix+"TRANSPORT_TYPE")
	setEnvString(&c.Transport.WS.URL, prefix+"TRANSPORT_WS_URL")
	setEnvString(&c.Transport.BlueZ.Adapter, prefix+"TRANSPORT_BLUEZ_ADAPTER")

	setEnvString(&c.Metrics.BindAddr, prefix+"METRICS_BIND_ADDR")
}

func setEnvString(dest *string, name string) {
	value := os.Getenv(name)
	if value != "" {
		*dest = value
	}
}

func setEnvInt(dest *int, name string) {
	if value, err := strconv.Atoi(os.Getenv(name)); err == nil {
		*dest = value
	}
}

func setEnvBool(dest *bool, name string) {
	if value, err := strconv.ParseBool(os.Getenv(name)); err == nil {
		*dest = value
	}
}

func setEnvDuration(dest *time.Duration, name string) {
	if value, err := time.ParseDuration(os.Getenv(name)); err == nil {
		*dest = value
	}
}

func setEnvTransportType(dest *TransportType, name string) {
	switch value := os.Getenv(name); TransportType(value) {
	case TransportTypeWS, TransportTypeBlueZ:
		*dest = TransportType(value)
	}
}
