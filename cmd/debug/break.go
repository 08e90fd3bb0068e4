package debug

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
)

var breakCmd = &cobra.Command{
	Use:   "break <locspec>",
	Short: "在源码中添加断点",
	Long: `在源码中添加断点，源码位置可以通过locspec格式指定。

当前支持的locspec格式，包括两种:
- 文件名:行号，添加行断点，相对路径基于当前工作目录
- 函数名，添加函数断点，函数断点不会被镜像到目标调试器`,
	Aliases: []string{"b", "breakpoint"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		defer cmd.Flags().Set("cond", "")

		if len(args) != 1 {
			return errors.New("参数错误")
		}
		s, err := session()
		if err != nil {
			return err
		}
		cond, _ := cmd.Flags().GetString("cond")

		bp, err := newBreakpoint(args[0], cond)
		if err != nil {
			return err
		}
		s.Manager.Add(bp)

		fmt.Fprintf(cmd.OutOrStdout(), "add %v\n", bp)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(breakCmd)

	breakCmd.Flags().StringP("cond", "c", "", "断点条件")
}

// newBreakpoint 根据locspec创建断点
func newBreakpoint(locStr, cond string) (breakpoint.Breakpoint, error) {
	if !strings.Contains(locStr, ":") {
		fb := breakpoint.NewFunctionBreakpoint(locStr)
		fb.SetCondition(cond)
		return fb, nil
	}

	file, lineno, err := parseFileLineno(locStr)
	if err != nil {
		return nil, err
	}
	if lineno <= 0 {
		return nil, fmt.Errorf("invalid lineno: %d", lineno)
	}
	file, err = filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	lb := breakpoint.NewLineBreakpoint(breakpoint.FileURL(file), lineno)
	lb.SetCondition(cond)
	return lb, nil
}

func parseFileLineno(s string) (file string, lineno int, err error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		err = fmt.Errorf("invalid location: %s, must be file:lineno", s)
		return
	}

	file = s[:idx]
	v, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		err = fmt.Errorf("invalid location: %s, must be file:lineno", s)
		return
	}
	lineno = int(v)
	return
}
