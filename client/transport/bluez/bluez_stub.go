//go:build !linux
// +build !linux

package bluez

import (
	"github.com/bleq/bleq/client/logger"
	"github.com/bleq/bleq/client/transport"
	"github.com/juju/errors"
)

type Params struct {
	Log logger.Logger

	// Adapter is the local controller name, hci0 when empty.
	Adapter string
}

// New always fails: BlueZ is only available on linux.
func New(params Params) (transport.Transport, error) {
	return nil, errors.New("bluez transport is only supported on linux")
}
