/*
Copyright © 2020 hit.zhangjie@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
	"github.com/hitzhangjie/bpmirror/pkg/config"
	"github.com/hitzhangjie/bpmirror/pkg/mirror"
	"github.com/hitzhangjie/bpmirror/pkg/mirror/mirrortest"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "检查断点文件，列出将被镜像的断点",
	Long:  `检查断点文件，列出每个断点转发给目标调试器时使用的路径、行号和条件，不连接目标调试器。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		specs, err := breakpoint.LoadFile(cfg.BreakpointsFile)
		if err != nil {
			return fmt.Errorf("load breakpoints: %w", err)
		}
		mgr := breakpoint.NewManager()
		mgr.Apply(specs)

		logger := discardLogger()
		if cfg.Debug {
			logger = newLogger(true)
		}

		rec := mirrortest.NewRecorder()
		rec.NoHandle = true
		mir, err := mirror.New(cfg.SourcesRoot, mgr, rec, mirror.WithLogger(logger))
		if err != nil {
			return err
		}
		defer mir.Dispose()

		printPlan(os.Stdout, mgr.Breakpoints(), mir.Tracked())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func printPlan(w io.Writer, bps []breakpoint.Breakpoint, tracked []mirror.Entry) {
	byBP := map[breakpoint.Breakpoint]mirror.Entry{}
	for _, e := range tracked {
		byBP[e.Breakpoint] = e
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBREAKPOINT\tTARGET ID\tTARGET LOCATION")
	for _, bp := range bps {
		e, ok := byBP[bp]
		switch {
		case ok:
			fmt.Fprintf(tw, "%d\t%v\t%s\t%s\n", bp.ID(), bp, e.ID, e.Descriptor)
		case bp.Hidden():
			fmt.Fprintf(tw, "%d\t%v\t-\tskipped: hidden\n", bp.ID(), bp)
		default:
			if _, line := bp.(*breakpoint.LineBreakpoint); line {
				fmt.Fprintf(tw, "%d\t%v\t-\tskipped: unresolvable\n", bp.ID(), bp)
			} else {
				fmt.Fprintf(tw, "%d\t%v\t-\tskipped: not a line breakpoint\n", bp.ID(), bp)
			}
		}
	}
	tw.Flush()
}
