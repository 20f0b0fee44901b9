// Package cli wires the command line surface of bleq.
package cli

import (
	"context"

	"github.com/bleq/bleq/client/logger"
	"github.com/juju/errors"
)

type Props struct {
	Log     logger.Logger
	Version string
	Args    []string
}

func Exec(ctx context.Context, props Props) error {
	cmd := NewRootCommand(props)
	err := cmd.Exec(ctx, props.Args)

	return errors.Trace(err)
}
