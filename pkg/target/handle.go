// Package target 目标调试器的公共部分
//
// Sub-packages dap and remote implement mirror.TargetDebugger on top of a
// Debug Adapter Protocol connection and a websocket side channel.
package target

import (
	"sort"
	"sync"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
)

// Handle 目标调试器中一个断点的有效性状态，可订阅变化
type Handle struct {
	mu       sync.Mutex
	validity breakpoint.Validity
	message  string
	seq      uint64
	subs     map[uint64]func(breakpoint.Validity, string)
	closed   bool
}

// NewHandle 创建初始状态为v的句柄
func NewHandle(v breakpoint.Validity, message string) *Handle {
	return &Handle{
		validity: v,
		message:  message,
		subs:     make(map[uint64]func(breakpoint.Validity, string)),
	}
}

// Validity 当前状态
func (h *Handle) Validity() (breakpoint.Validity, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.validity, h.message
}

// OnValidityChange 订阅状态变化，返回值用于取消订阅
func (h *Handle) OnValidityChange(fn func(breakpoint.Validity, string)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return func() {}
	}
	h.seq++
	key := h.seq
	h.subs[key] = fn

	return func() {
		h.mu.Lock()
		delete(h.subs, key)
		h.mu.Unlock()
	}
}

// Set 更新状态并通知订阅者，订阅者在锁外被调用
func (h *Handle) Set(v breakpoint.Validity, message string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.validity, h.message = v, message

	keys := make([]uint64, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	fns := make([]func(breakpoint.Validity, string), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, h.subs[k])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v, message)
	}
}

// Close 断点已从目标调试器移除，丢弃所有订阅者，之后的Set不再生效
func (h *Handle) Close() {
	h.mu.Lock()
	h.closed = true
	h.subs = map[uint64]func(breakpoint.Validity, string){}
	h.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (h *Handle) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
