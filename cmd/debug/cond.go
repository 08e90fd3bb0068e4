package debug

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var condCmd = &cobra.Command{
	Use:   "cond <breakpoint no.> [expr]",
	Short: "设置断点条件",
	Long: `设置断点条件，省略expr时清除条件。

条件表达式原样转发给目标调试器，由目标调试器负责求值。`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	// 表达式中可能出现 -x 这样的内容
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 {
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

		expr := strings.Join(args[1:], " ")
		bp.(interface{ SetCondition(string) }).SetCondition(expr)
		if expr == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%v condition cleared\n", bp)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%v condition: %s\n", bp, expr)
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(condCmd)
}
