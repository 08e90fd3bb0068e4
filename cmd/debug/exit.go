package debug

import (
	"github.com/spf13/cobra"
)

var exitCmd = &cobra.Command{
	Use:     "exit",
	Short:   "结束镜像会话",
	Aliases: []string{"quit", "q"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupOthers,
	},
	Run: func(cmd *cobra.Command, args []string) {
		if CurrentSession != nil {
			CurrentSession.Stop()
		}
	},
}

func init() {
	debugRootCmd.AddCommand(exitCmd)
}

// Cleanup 清理镜像会话：撤销所有镜像断点，断开目标调试器
func Cleanup() {
	if CurrentSession == nil {
		return
	}
	CurrentSession.Close()
}
