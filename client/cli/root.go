package cli

import (
	"github.com/bleq/bleq/client/command"
)

func NewRootCommand(props Props) *command.Command {
	return command.New(command.Params{
		Name: "bleq",
		Desc: "bleq talks GATT to a single BLE device, one operation at a time.",
		SubCommands: []*command.Command{
			newReadCmd(props),
			newWriteCmd(props),
			newNotifyCmd(props),
			newRSSICmd(props),
			newMTUCmd(props),
			newVersionCmd(props),
		},
	})
}
