package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearallCmd = &cobra.Command{
	Use:   "clearall",
	Short: "清除所有的断点",
	Long:  `清除所有的断点`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}
		n := len(s.Manager.Breakpoints())
		s.Manager.RemoveAll()
		fmt.Fprintf(cmd.OutOrStdout(), "清空断点成功: %d\n", n)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(clearallCmd)
}
