// Package breakpoint 源调试器侧的断点注册表
//
// A Breakpoint is either a *LineBreakpoint or a *FunctionBreakpoint. Both carry
// a property listener list and a validity state sink that other components
// (e.g. a mirror onto a second debugger) push feedback into.
package breakpoint

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

var (
	bpSeqNo = atomic.NewUint64(0)
)

// Property 断点属性名
type Property string

const (
	PropEnabled   Property = "enabled"
	PropCondition Property = "condition"
	PropLine      Property = "line"
	PropURL       Property = "url"
	PropHidden    Property = "hidden"
	PropValidity  Property = "validity"
	PropDisposed  Property = "disposed"
)

// PropertyEvent 断点属性变化事件
type PropertyEvent struct {
	Source   Breakpoint
	Property Property
	Old      interface{}
	New      interface{}
}

// PropertyListener 断点属性变化监听器
type PropertyListener func(ev PropertyEvent)

// Breakpoint 断点，只有LineBreakpoint和FunctionBreakpoint两种
type Breakpoint interface {
	ID() uint64
	Enabled() bool
	Hidden() bool
	Condition() string
	Validity() ValidityState

	AddPropertyListener(l PropertyListener) (detach func())
	SetValidity(v Validity, message string)

	sealed()
}

// listeners is shared by both breakpoint kinds.
type listeners struct {
	mu    sync.Mutex
	seq   uint64
	table map[uint64]PropertyListener
}

func (ls *listeners) add(l PropertyListener) func() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.table == nil {
		ls.table = make(map[uint64]PropertyListener)
	}
	ls.seq++
	key := ls.seq
	ls.table[key] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			ls.mu.Lock()
			delete(ls.table, key)
			ls.mu.Unlock()
		})
	}
}

func (ls *listeners) count() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.table)
}

// fire delivers ev to a snapshot of the listeners, outside the lock, so a
// listener may detach itself or others while being notified.
func (ls *listeners) fire(ev PropertyEvent) {
	ls.mu.Lock()
	keys := make([]uint64, 0, len(ls.table))
	for k := range ls.table {
		keys = append(keys, k)
	}
	snapshot := make([]PropertyListener, 0, len(keys))
	sortUint64s(keys)
	for _, k := range keys {
		snapshot = append(snapshot, ls.table[k])
	}
	ls.mu.Unlock()

	for _, l := range snapshot {
		safeCall(func() { l(ev) })
	}
}

// base holds the state common to all breakpoint kinds.
type base struct {
	id uint64

	mu        sync.RWMutex
	condition string
	enabled   bool
	hidden    bool
	validity  ValidityState

	listeners listeners
}

// ID 断点编号
func (b *base) ID() uint64 {
	return b.id
}

// Enabled 断点是否启用
func (b *base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// Hidden 断点是否为内部使用的隐藏断点
func (b *base) Hidden() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hidden
}

// Condition 条件表达式，空串表示无条件
func (b *base) Condition() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.condition
}

// Validity 最近一次回写的有效性状态
func (b *base) Validity() ValidityState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.validity
}

// AddPropertyListener 注册属性变化监听器，返回值用于注销
func (b *base) AddPropertyListener(l PropertyListener) func() {
	return b.listeners.add(l)
}

// ListenerCount returns the number of attached property listeners.
func (b *base) ListenerCount() int {
	return b.listeners.count()
}

func (b *base) sealed() {}

// LineBreakpoint 行断点
type LineBreakpoint struct {
	base
	url  string
	line int
}

// NewLineBreakpoint 在url对应文件的第line行创建行断点，url一般为file://形式
func NewLineBreakpoint(url string, line int) *LineBreakpoint {
	return &LineBreakpoint{
		base: base{id: bpSeqNo.Add(1), enabled: true},
		url:  url,
		line: line,
	}
}

// URL 源文件url
func (b *LineBreakpoint) URL() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.url
}

// Line 行号，从1开始
func (b *LineBreakpoint) Line() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.line
}

// SetLine 修改行号
func (b *LineBreakpoint) SetLine(line int) {
	b.mu.Lock()
	old := b.line
	b.line = line
	b.mu.Unlock()
	if old != line {
		b.fire(b, PropLine, old, line)
	}
}

// SetURL 修改源文件url
func (b *LineBreakpoint) SetURL(url string) {
	b.mu.Lock()
	old := b.url
	b.url = url
	b.mu.Unlock()
	if old != url {
		b.fire(b, PropURL, old, url)
	}
}

// SetEnabled 启用或禁用断点
func (b *LineBreakpoint) SetEnabled(enabled bool) {
	b.setEnabled(b, enabled)
}

// SetCondition 修改条件表达式
func (b *LineBreakpoint) SetCondition(cond string) {
	b.setCondition(b, cond)
}

// SetHidden 修改隐藏标记
func (b *LineBreakpoint) SetHidden(hidden bool) {
	b.setHidden(b, hidden)
}

// SetValidity 将另一个调试器反馈的有效性回写到断点上
func (b *LineBreakpoint) SetValidity(v Validity, message string) {
	b.setValidity(b, v, message)
}

// Dispose 通知监听者断点已被销毁
func (b *LineBreakpoint) Dispose() {
	b.fire(b, PropDisposed, false, true)
}

func (b *LineBreakpoint) String() string {
	return fmt.Sprintf("breakpoint[%d] %s:%d", b.ID(), b.URL(), b.Line())
}

// FunctionBreakpoint 函数断点
type FunctionBreakpoint struct {
	base
	function string
}

// NewFunctionBreakpoint 在函数function入口处创建断点
func NewFunctionBreakpoint(function string) *FunctionBreakpoint {
	return &FunctionBreakpoint{
		base:     base{id: bpSeqNo.Add(1), enabled: true},
		function: function,
	}
}

// Function 函数名
func (b *FunctionBreakpoint) Function() string {
	return b.function
}

// SetEnabled 启用或禁用断点
func (b *FunctionBreakpoint) SetEnabled(enabled bool) {
	b.setEnabled(b, enabled)
}

// SetCondition 修改条件表达式
func (b *FunctionBreakpoint) SetCondition(cond string) {
	b.setCondition(b, cond)
}

// SetHidden 修改隐藏标记
func (b *FunctionBreakpoint) SetHidden(hidden bool) {
	b.setHidden(b, hidden)
}

// SetValidity 将有效性回写到断点上
func (b *FunctionBreakpoint) SetValidity(v Validity, message string) {
	b.setValidity(b, v, message)
}

// Dispose 通知监听者断点已被销毁
func (b *FunctionBreakpoint) Dispose() {
	b.fire(b, PropDisposed, false, true)
}

func (b *FunctionBreakpoint) String() string {
	return fmt.Sprintf("breakpoint[%d] func %s", b.ID(), b.function)
}

func (b *base) setEnabled(src Breakpoint, enabled bool) {
	b.mu.Lock()
	old := b.enabled
	b.enabled = enabled
	b.mu.Unlock()
	if old != enabled {
		b.fire(src, PropEnabled, old, enabled)
	}
}

func (b *base) setCondition(src Breakpoint, cond string) {
	b.mu.Lock()
	old := b.condition
	b.condition = cond
	b.mu.Unlock()
	if old != cond {
		b.fire(src, PropCondition, old, cond)
	}
}

func (b *base) setHidden(src Breakpoint, hidden bool) {
	b.mu.Lock()
	old := b.hidden
	b.hidden = hidden
	b.mu.Unlock()
	if old != hidden {
		b.fire(src, PropHidden, old, hidden)
	}
}

// setValidity always fires, a repeated state is still a fresh report.
func (b *base) setValidity(src Breakpoint, v Validity, message string) {
	state := ValidityState{Validity: v, Message: message}
	b.mu.Lock()
	old := b.validity
	b.validity = state
	b.mu.Unlock()
	b.fire(src, PropValidity, old, state)
}

func (b *base) fire(src Breakpoint, p Property, oldVal, newVal interface{}) {
	b.listeners.fire(PropertyEvent{
		Source:   src,
		Property: p,
		Old:      oldVal,
		New:      newVal,
	})
}
