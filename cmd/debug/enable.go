package debug

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type enabler interface {
	SetEnabled(enabled bool)
}

var enableCmd = &cobra.Command{
	Use:   "enable <breakpoint no.>",
	Short: "启用指定编号的断点",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args, true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <breakpoint no.>",
	Short: "禁用指定编号的断点",
	Long:  `禁用指定编号的断点，禁用的断点仍会同步到目标调试器，但不会命中`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args, false)
	},
}

func init() {
	debugRootCmd.AddCommand(enableCmd)
	debugRootCmd.AddCommand(disableCmd)
}

func setEnabled(cmd *cobra.Command, args []string, enabled bool) error {
	if len(args) != 1 {
		return errors.New("参数错误")
	}
	s, err := session()
	if err != nil {
		return err
	}
	id, err := parseBreakpointNo(args[0])
	if err != nil {
		return err
	}
	bp, err := s.Manager.Get(id)
	if err != nil {
		return fmt.Errorf("断点%d不存在", id)
	}

	bp.(enabler).SetEnabled(enabled)
	fmt.Fprintf(cmd.OutOrStdout(), "%v enabled: %v\n", bp, enabled)
	return nil
}
