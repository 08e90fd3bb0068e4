package debug

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var mirroredCmd = &cobra.Command{
	Use:     "mirrored",
	Short:   "列出已镜像到目标调试器的断点",
	Aliases: []string{"m"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupMirror,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}
		if s.Mirror == nil {
			return fmt.Errorf("mirror not running")
		}

		entries := s.Mirror.Tracked()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TARGET ID\tBREAKPOINT\tDESCRIPTOR")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", e.ID, e.Breakpoint.ID(), e.Descriptor)
		}
		tw.Flush()
		fmt.Fprintf(cmd.OutOrStdout(), "%d mirrored\n", len(entries))
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(mirroredCmd)
}
