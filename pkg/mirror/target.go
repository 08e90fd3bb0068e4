package mirror

import (
	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
)

// TargetDebugger 接收镜像断点的另一个调试器
//
// AddLineBreakpoint is an upsert: adding an id that is already present
// replaces its descriptor. RemoveBreakpoint of an unknown id is a no-op.
// The returned Handle may be nil when the target reports no validity.
type TargetDebugger interface {
	AddLineBreakpoint(id string, d Descriptor) (Handle, error)
	RemoveBreakpoint(id string) error
}

// Handle 目标调试器侧断点的句柄，用于获取和订阅有效性变化
type Handle interface {
	Validity() (breakpoint.Validity, string)
	// OnValidityChange may invoke fn from any goroutine.
	OnValidityChange(fn func(v breakpoint.Validity, message string)) (cancel func())
}

// Registry 源调试器的断点注册表
type Registry interface {
	Breakpoints() []breakpoint.Breakpoint
	AddListener(l breakpoint.Listener) (remove func())
}
