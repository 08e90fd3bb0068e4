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
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/bpmirror/cmd/debug"
	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
	"github.com/hitzhangjie/bpmirror/pkg/config"
	"github.com/hitzhangjie/bpmirror/pkg/mirror"
	"github.com/hitzhangjie/bpmirror/pkg/target/dap"
	"github.com/hitzhangjie/bpmirror/pkg/target/remote"
)

// mirrorCmd represents the mirror command
var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "将断点镜像到目标调试器",
	Long: `加载断点文件，连接目标调试器，并持续将断点的增删改同步过去。

--interactive 启动交互式命令行，可以在其中增删断点、查看断点在目标调试器中的状态。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		if err = cfg.ValidateTarget(); err != nil {
			return err
		}
		logger := newLogger(cfg.Debug)

		mgr := breakpoint.NewManager()
		if err = loadBreakpoints(mgr, cfg.BreakpointsFile); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())

		tgt, err := dialTarget(ctx, cfg, logger)
		if err != nil {
			cancel()
			return err
		}
		fmt.Printf("connected to %s target %s\n", cfg.Target.Kind, cfg.Target.Address)

		mir, err := mirror.New(cfg.SourcesRoot, mgr, tgt, mirror.WithLogger(logger))
		if err != nil {
			cancel()
			tgt.Close()
			return err
		}
		fmt.Printf("mirrored %d breakpoints\n", len(mir.Tracked()))

		go func() {
			err := breakpoint.Watch(ctx, cfg.BreakpointsFile, mgr, breakpoint.WatchOptions{
				Logger: logger,
				Debug:  cfg.Debug,
			})
			if err != nil {
				logger.Printf("watch breakpoints file: %v", err)
			}
		}()

		// 根据启动方式决定善后处理：先撤销镜像，再断开目标调试器
		session := debug.NewDebugSession(mgr, mir, cfg.BreakpointsFile).AtExit(func() {
			cancel()
			mir.Dispose()
			if err := tgt.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "close target: %v\n", err)
			}
		})
		debug.CurrentSession = session

		interactive, _ := cmd.Flags().GetBool("interactive")
		if interactive {
			session.Start()
			return nil
		}

		<-tgt.Done()
		fmt.Fprintln(os.Stderr, "target disconnected")
		session.Close()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mirrorCmd)

	flags := mirrorCmd.Flags()
	flags.BoolP("interactive", "i", false, "启动交互式命令行")
	flags.String("target", config.KindDAP, "目标调试器类型, dap或ws")
	flags.String("addr", "", "目标调试器地址, dap为host:port, ws为ws://url")
	flags.String("token", "", "websocket认证token")
	flags.Duration("timeout", dap.DefaultTimeout, "请求超时时间")

	viper.BindPFlag(config.KeyTargetKind, flags.Lookup("target"))
	viper.BindPFlag(config.KeyTargetAddress, flags.Lookup("addr"))
	viper.BindPFlag(config.KeyTargetToken, flags.Lookup("token"))
	viper.BindPFlag(config.KeyTargetTimeout, flags.Lookup("timeout"))
}

// targetConn 目标调试器连接
type targetConn interface {
	mirror.TargetDebugger
	io.Closer
	Done() <-chan struct{}
}

func dialTarget(ctx context.Context, cfg *config.Config, logger *log.Logger) (targetConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Target.Timeout)
	defer cancel()

	switch cfg.Target.Kind {
	case config.KindWebsocket:
		t, err := remote.Dial(dialCtx, cfg.Target.Address,
			remote.WithToken(cfg.Target.Token),
			remote.WithWriteTimeout(cfg.Target.Timeout),
			remote.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		t, err := dap.Dial(dialCtx, cfg.Target.Address,
			dap.WithTimeout(cfg.Target.Timeout),
			dap.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if _, err := t.Initialize(dialCtx); err != nil {
			t.Close()
			return nil, err
		}
		return t, nil
	}
}

// loadBreakpoints 断点文件不存在时从空断点集合开始
func loadBreakpoints(mgr *breakpoint.Manager, file string) error {
	specs, err := breakpoint.LoadFile(file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load breakpoints: %w", err)
	}
	mgr.Apply(specs)
	return nil
}
