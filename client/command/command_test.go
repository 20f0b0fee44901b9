package command_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/bleq/bleq/client/command"
	"github.com/bleq/bleq/client/multierr"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecSubCommandWithFlags(t *testing.T) {
	var (
		verbose  bool
		gotArgs  []string
		handled  bool
		rootSeen bool
	)

	sub := command.New(command.Params{
		Name: "run",
		Desc: "Run something",
		FlagRegistry: command.FlagRegistryFunc(func(cmd *command.Command, flags *pflag.FlagSet) {
			flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
		}),
		Handler: command.HandlerFunc(func(ctx context.Context, args []string) error {
			handled = true
			gotArgs = args

			return nil
		}),
	})

	root := command.New(command.Params{
		Name: "app",
		Desc: "Test app",
		Handler: command.HandlerFunc(func(ctx context.Context, args []string) error {
			rootSeen = true

			return nil
		}),
		SubCommands: []*command.Command{sub},
	})
	root.SetWriter(&bytes.Buffer{})

	err := root.Exec(context.Background(), []string{"run", "--verbose", "abc"})
	require.NoError(t, err)

	assert.True(t, rootSeen)
	assert.True(t, handled)
	assert.True(t, verbose)
	assert.Equal(t, []string{"abc"}, gotArgs)
}

func TestExecUnknownSubCommand(t *testing.T) {
	root := command.New(command.Params{
		Name: "app",
		Desc: "Test app",
		SubCommands: []*command.Command{
			command.New(command.Params{Name: "run", Desc: "Run something"}),
		},
	})
	root.SetWriter(&bytes.Buffer{})

	err := root.Exec(context.Background(), []string{"walk"})
	require.True(t, multierr.Is(err, command.ErrCommandNotFound))
}

func TestExecNoArgsPrintsUsage(t *testing.T) {
	var out bytes.Buffer

	root := command.New(command.Params{
		Name: "app",
		Desc: "Test app",
		SubCommands: []*command.Command{
			command.New(command.Params{Name: "run", Desc: "Run something"}),
		},
	})
	root.SetWriter(&out)

	err := root.Exec(context.Background(), nil)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Usage: app")
	assert.Contains(t, out.String(), "run")
}

func TestExecHelpFlag(t *testing.T) {
	root := command.New(command.Params{
		Name: "app",
		Desc: "Test app",
	})
	root.SetWriter(&bytes.Buffer{})

	err := root.Exec(context.Background(), []string{"--help"})
	require.True(t, multierr.Is(err, pflag.ErrHelp))
}
