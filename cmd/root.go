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
	"io/ioutil"
	"log"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/bpmirror/pkg/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bpmirror",
	Short: "将源调试器的断点同步到另一个调试器",
	Long: `bpmirror将断点文件中的行断点镜像到另一个调试器，目标调试器可以是:
- dap: 通过tcp连接的Debug Adapter Protocol调试适配器
- ws:  websocket旁路通道

断点文件修改后会自动重新加载，目标调试器反馈的断点有效性会回写到断点上。`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bpmirror.yaml)")
	flags.String("sources", ".", "源码根目录")
	flags.StringP("file", "f", "breakpoints.yaml", "断点文件")
	flags.Bool("debug", false, "输出调试信息")

	viper.BindPFlag(config.KeySourcesRoot, flags.Lookup("sources"))
	viper.BindPFlag(config.KeyBreakpointsFile, flags.Lookup("file"))
	viper.BindPFlag(config.KeyDebug, flags.Lookup("debug"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".bpmirror" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".bpmirror")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil && viper.GetBool(config.KeyDebug) {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(debug bool) *log.Logger {
	if !debug {
		return log.New(os.Stderr, "[bpmirror] ", log.LstdFlags)
	}
	return log.New(os.Stderr, "[bpmirror] ", log.LstdFlags|log.Lshortfile)
}

func discardLogger() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}
