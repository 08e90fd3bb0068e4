package debug

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
	"github.com/hitzhangjie/bpmirror/pkg/mirror"
)

var breaksCmd = &cobra.Command{
	Use:     "breaks",
	Short:   "列出所有断点",
	Long:    "列出所有断点，以及断点在目标调试器中的编号、路径和有效性",
	Aliases: []string{"bs", "breakpoints"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session()
		if err != nil {
			return err
		}
		var tracked []mirror.Entry
		if s.Mirror != nil {
			tracked = s.Mirror.Tracked()
		}
		listBreakpoints(cmd.OutOrStdout(), s.Manager.Breakpoints(), tracked)
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(breaksCmd)
}

func listBreakpoints(w io.Writer, bps []breakpoint.Breakpoint, tracked []mirror.Entry) {
	if len(bps) == 0 {
		fmt.Fprintln(w, "no breakpoints")
		return
	}

	byBP := map[breakpoint.Breakpoint]mirror.Entry{}
	for _, e := range tracked {
		byBP[e.Breakpoint] = e
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOCATION\tCOND\tENABLED\tVALIDITY\tMIRROR")
	for _, bp := range bps {
		var loc string
		switch b := bp.(type) {
		case *breakpoint.LineBreakpoint:
			loc = fmt.Sprintf("%s:%d", displayPath(b.URL()), b.Line())
		case *breakpoint.FunctionBreakpoint:
			loc = "func " + b.Function()
		}

		cond := bp.Condition()
		if cond == "" {
			cond = "-"
		}

		validity := bp.Validity()
		state := validity.Validity.String()
		if validity.Message != "" {
			state = fmt.Sprintf("%s (%s)", state, validity.Message)
		}

		target := "-"
		if e, ok := byBP[bp]; ok {
			target = fmt.Sprintf("%s %s", e.ID, e.Descriptor.FilePath)
		} else if bp.Hidden() {
			target = "hidden"
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%v\t%s\t%s\n", bp.ID(), loc, cond, bp.Enabled(), state, target)
	}
	tw.Flush()
}

func displayPath(url string) string {
	if p, err := breakpoint.URLToPath(url); err == nil {
		return p
	}
	return url
}
