// Package mirrortest provides a recording TargetDebugger for tests and dry runs.
package mirrortest

import (
	"sync"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
	"github.com/hitzhangjie/bpmirror/pkg/mirror"
	"github.com/hitzhangjie/bpmirror/pkg/target"
)

// 调用类型
const (
	OpAdd    = "add"
	OpRemove = "remove"
)

// Call 一次对目标调试器的调用
type Call struct {
	Op         string
	ID         string
	Descriptor mirror.Descriptor
}

// Recorder 记录所有调用的目标调试器
type Recorder struct {
	// FailAdd, when set, decides whether an add fails. It is consulted after
	// the call has been recorded.
	FailAdd func(id string, d mirror.Descriptor) error
	// NoHandle makes AddLineBreakpoint return a nil handle.
	NoHandle bool

	mu      sync.Mutex
	calls   []Call
	handles map[string]*target.Handle
}

// NewRecorder 创建Recorder
func NewRecorder() *Recorder {
	return &Recorder{handles: make(map[string]*target.Handle)}
}

// AddLineBreakpoint implements mirror.TargetDebugger.
func (r *Recorder) AddLineBreakpoint(id string, d mirror.Descriptor) (mirror.Handle, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: OpAdd, ID: id, Descriptor: d})
	fail := r.FailAdd
	r.mu.Unlock()

	if fail != nil {
		if err := fail(id, d); err != nil {
			return nil, err
		}
	}
	if r.NoHandle {
		return nil, nil
	}

	h := target.NewHandle(breakpoint.ValidityPending, "")
	r.mu.Lock()
	prev := r.handles[id]
	r.handles[id] = h
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return h, nil
}

// RemoveBreakpoint implements mirror.TargetDebugger.
func (r *Recorder) RemoveBreakpoint(id string) error {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: OpRemove, ID: id})
	h := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if h != nil {
		h.Close()
	}
	return nil
}

// Calls 返回所有调用
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Adds 返回所有add调用
func (r *Recorder) Adds() []Call {
	return r.filter(OpAdd)
}

// Removes 返回所有remove调用
func (r *Recorder) Removes() []Call {
	return r.filter(OpRemove)
}

func (r *Recorder) filter(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Handle 返回id对应的最新句柄，可用于模拟有效性变化
func (r *Recorder) Handle(id string) *target.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[id]
}

// Live returns the ids currently present in the target.
func (r *Recorder) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}
