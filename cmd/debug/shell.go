package debug

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
	"github.com/hitzhangjie/bpmirror/pkg/mirror"
)

const (
	cmdGroupAnnotation = "cmd_group_annotation"

	cmdGroupBreakpoints = "1-breaks"
	cmdGroupMirror      = "2-mirror"
	cmdGroupOthers      = "5-other"
	cmdGroupCobra       = "other"

	cmdGroupDelimiter = "-"

	prefix    = "bpmirror> "
	descShort = "bpmirror interactive commands"
)

var debugRootCmd = &cobra.Command{
	Use:          "help [command]",
	Short:        descShort,
	SilenceUsage: true,
}

var (
	CurrentSession *DebugSession
)

// DebugSession 交互式会话
type DebugSession struct {
	done   chan bool
	prefix string
	root   *cobra.Command
	liner  *liner.State
	last   string

	defers    []func()
	closeOnce sync.Once
	stopOnce  sync.Once

	Manager *breakpoint.Manager
	Mirror  *mirror.Mirror
	File    string // 断点文件，save命令写回该文件
	Out     io.Writer
}

// NewDebugSession 创建一个交互管理器
func NewDebugSession(mgr *breakpoint.Manager, mir *mirror.Mirror, file string) *DebugSession {

	fn := func(cmd *cobra.Command, args []string) {
		// 描述信息
		fmt.Println(cmd.Short)
		fmt.Println()

		// 使用信息
		fmt.Println(cmd.Use)
		fmt.Println(cmd.Flags().FlagUsages())

		// 命令分组
		usage := helpMessageByGroups(cmd)
		fmt.Println(usage)
	}
	debugRootCmd.SetHelpFunc(fn)

	return &DebugSession{
		done:    make(chan bool),
		prefix:  prefix,
		root:    debugRootCmd,
		last:    "",
		Manager: mgr,
		Mirror:  mir,
		File:    file,
		Out:     os.Stdout,
	}
}

// Start 进入交互循环，直到exit或者输入结束
func (s *DebugSession) Start() {
	s.liner = liner.NewLiner()
	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(completer)
	s.liner.SetTabCompletionStyle(liner.TabPrints)

	defer s.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		txt, err := s.liner.Prompt(s.prefix)
		if err != nil {
			// ctrl+c, ctrl+d
			if err != liner.ErrPromptAborted && err != io.EOF {
				fmt.Fprintf(os.Stderr, "read command: %v\n", err)
			}
			return
		}

		txt = strings.TrimSpace(txt)
		if len(txt) != 0 {
			s.last = txt
			s.liner.AppendHistory(txt)
		} else {
			txt = s.last
		}
		if txt == "" {
			continue
		}

		s.Exec(txt)
	}
}

// Exec 执行一条交互命令
func (s *DebugSession) Exec(line string) error {
	s.root.SetArgs(strings.Fields(line))
	s.root.SetOut(s.Out)
	return s.root.Execute()
}

// AtExit 注册会话结束时的清理函数，按注册的逆序执行
func (s *DebugSession) AtExit(fn func()) *DebugSession {
	s.defers = append(s.defers, fn)
	return s
}

// Stop 结束交互循环
func (s *DebugSession) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Close 执行清理函数，多次调用只执行一次
func (s *DebugSession) Close() {
	s.closeOnce.Do(func() {
		if s.liner != nil {
			s.liner.Close()
		}
		for idx := len(s.defers) - 1; idx >= 0; idx-- {
			s.defers[idx]()
		}
	})
}

func completer(line string) []string {
	cmds := []string{}
	for _, c := range debugRootCmd.Commands() {
		// complete cmd
		if strings.HasPrefix(c.Use, line) {
			cmds = append(cmds, strings.Split(c.Use, " ")[0])
		}
		// complete cmd's aliases
		for _, alias := range c.Aliases {
			if strings.HasPrefix(alias, line) {
				cmds = append(cmds, alias)
			}
		}
	}
	return cmds
}

// helpMessageByGroups 将各个命令按照分组归类，再展示帮助信息
func helpMessageByGroups(cmd *cobra.Command) string {

	// key:group, val:sorted commands in same group
	groups := map[string][]string{}
	for _, c := range cmd.Commands() {
		// 如果没有指定命令分组，放入other组
		var groupName string
		v, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			groupName = cmdGroupCobra
		} else {
			groupName = v
		}

		groupCmds := groups[groupName]
		groupCmds = append(groupCmds, fmt.Sprintf("  %-16s:%s", c.Name(), c.Short))
		sort.Strings(groupCmds)

		groups[groupName] = groupCmds
	}

	if len(groups[cmdGroupCobra]) != 0 {
		groups[cmdGroupOthers] = append(groups[cmdGroupOthers], groups[cmdGroupCobra]...)
	}
	delete(groups, cmdGroupCobra)

	// 按照分组名进行排序
	groupNames := []string{}
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	// 按照group分组，并对组内命令进行排序
	buf := bytes.Buffer{}
	for _, groupName := range groupNames {
		commands := groups[groupName]

		group := strings.Split(groupName, cmdGroupDelimiter)[1]
		buf.WriteString(fmt.Sprintf("- [%s]\n", group))

		for _, cmd := range commands {
			buf.WriteString(fmt.Sprintf("%s\n", cmd))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

// session returns the active session or an error for commands run outside one.
func session() (*DebugSession, error) {
	if CurrentSession == nil || CurrentSession.Manager == nil {
		return nil, fmt.Errorf("no active session")
	}
	return CurrentSession, nil
}
