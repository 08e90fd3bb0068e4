package debug

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear <breakpoint no.>",
	Short: "清除指定编号的断点",
	Long:  `清除指定编号的断点，已镜像的断点会同时从目标调试器中移除`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
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

		// 移除断点
		bp, err := s.Manager.Remove(id)
		if err != nil {
			return fmt.Errorf("断点%d不存在", id)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "移除断点成功: %v\n", bp)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(clearCmd)
}

func parseBreakpointNo(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid breakpoint no.: %s", s)
	}
	return id, nil
}
