package mirror

import (
	"errors"
	"fmt"
)

// Descriptor 转发给目标调试器的行断点描述，创建后不再修改
//
// A changed breakpoint produces a new Descriptor and a fresh AddLineBreakpoint
// call with the same id.
type Descriptor struct {
	FilePath  string
	Line      int
	Condition string
	Enabled   bool
	Hidden    bool
}

// NewDescriptor validates path and line.
func NewDescriptor(path string, line int, cond string, enabled, hidden bool) (Descriptor, error) {
	if path == "" {
		return Descriptor{}, errors.New("empty file path")
	}
	if line < 1 {
		return Descriptor{}, fmt.Errorf("invalid line %d", line)
	}
	return Descriptor{
		FilePath:  path,
		Line:      line,
		Condition: cond,
		Enabled:   enabled,
		Hidden:    hidden,
	}, nil
}

// Unconditional 是否无条件断点
func (d Descriptor) Unconditional() bool {
	return d.Condition == ""
}

func (d Descriptor) String() string {
	s := fmt.Sprintf("%s:%d", d.FilePath, d.Line)
	if !d.Unconditional() {
		s += fmt.Sprintf(" if %s", d.Condition)
	}
	if !d.Enabled {
		s += " (disabled)"
	}
	return s
}
