package debug

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
)

var saveCmd = &cobra.Command{
	Use:   "save [file]",
	Short: "保存断点到断点文件",
	Long:  `保存断点到断点文件，默认写回启动时加载的断点文件`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupOthers,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}
		file := s.File
		if len(args) > 0 {
			file = args[0]
		}
		if file == "" {
			return errors.New("未指定断点文件")
		}

		bps := s.Manager.Breakpoints()
		if err := breakpoint.SaveFile(file, bps); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "保存%d个断点到%s\n", len(bps), file)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(saveCmd)
}
