// Package config bpmirror的配置，由viper从配置文件、环境变量和命令行参数合并得到
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 配置项
const (
	KeySourcesRoot     = "sources.root"
	KeyBreakpointsFile = "breakpoints.file"
	KeyTargetKind      = "target.kind"
	KeyTargetAddress   = "target.address"
	KeyTargetToken     = "target.token"
	KeyTargetTimeout   = "target.timeout"
	KeyDebug           = "debug"

	EnvPrefix = "BPMIRROR"
)

// 目标调试器类型
const (
	KindDAP       = "dap"
	KindWebsocket = "ws"
)

// Config 配置
type Config struct {
	SourcesRoot     string
	BreakpointsFile string
	Target          Target
	Debug           bool
}

// Target 目标调试器配置
type Target struct {
	Kind    string
	Address string
	Token   string
	Timeout time.Duration
}

// SetDefaults 设置默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeySourcesRoot, ".")
	v.SetDefault(KeyBreakpointsFile, "breakpoints.yaml")
	v.SetDefault(KeyTargetKind, KindDAP)
	v.SetDefault(KeyTargetTimeout, 5*time.Second)
	v.SetDefault(KeyDebug, false)
}

// Load 从v中读取并校验配置
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		SourcesRoot:     v.GetString(KeySourcesRoot),
		BreakpointsFile: v.GetString(KeyBreakpointsFile),
		Target: Target{
			Kind:    v.GetString(KeyTargetKind),
			Address: v.GetString(KeyTargetAddress),
			Token:   v.GetString(KeyTargetToken),
			Timeout: v.GetDuration(KeyTargetTimeout),
		},
		Debug: v.GetBool(KeyDebug),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings a mirror session cannot start without.
func (c *Config) Validate() error {
	if c.BreakpointsFile == "" {
		return fmt.Errorf("%s is required", KeyBreakpointsFile)
	}
	switch c.Target.Kind {
	case KindDAP, KindWebsocket:
	default:
		return fmt.Errorf("%s: unsupported kind %q, want %s or %s", KeyTargetKind, c.Target.Kind, KindDAP, KindWebsocket)
	}
	if c.Target.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyTargetTimeout)
	}
	return nil
}

// ValidateTarget additionally requires a target address.
func (c *Config) ValidateTarget() error {
	if c.Target.Address == "" {
		return fmt.Errorf("%s is required", KeyTargetAddress)
	}
	return nil
}
