// Package mirror keeps a second debugger's line breakpoints in step with the
// source debugger's breakpoint registry.
//
// Every eligible breakpoint (a *breakpoint.LineBreakpoint that is not hidden)
// is forwarded to a TargetDebugger as a Descriptor. Edits re-add the
// breakpoint under the same id, removals remove it, and the validity the
// target reports is echoed back onto the source breakpoint. Mirroring is best
// effort: target failures are logged and the breakpoint is left untracked.
package mirror

import (
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
)

// DefaultSourcesPrefix 源码根目录下的文件在目标调试器中的路径前缀
const DefaultSourcesPrefix = "sources"

var (
	ErrNilTarget   = errors.New("mirror: nil target debugger")
	ErrNilRegistry = errors.New("mirror: nil breakpoint registry")

	errExecutorClosed = errors.New("mirror: disposed")
)

// Option 镜像选项
type Option func(m *Mirror)

// WithLogger 设置日志输出
func WithLogger(l *log.Logger) Option {
	return func(m *Mirror) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSourcesPrefix 修改源码路径前缀，默认为sources
func WithSourcesPrefix(prefix string) Option {
	return func(m *Mirror) {
		m.prefix = prefix
	}
}

// Entry 已镜像断点的快照
type Entry struct {
	ID         string
	Breakpoint *breakpoint.LineBreakpoint
	Descriptor Descriptor
}

type entry struct {
	id     string
	desc   Descriptor
	handle Handle
	cancel func()
}

// Mirror 断点镜像
type Mirror struct {
	root   string
	prefix string
	target TargetDebugger
	logger *log.Logger
	exec   *executor

	mu        sync.Mutex
	listeners map[*breakpoint.LineBreakpoint]func() // attached property listeners
	entries   map[*breakpoint.LineBreakpoint]*entry // breakpoints live in the target

	unregister  func()
	echoMu      sync.RWMutex // echoes hold it shared, Dispose takes it to set disposed
	disposed    *atomic.Bool
	disposeOnce sync.Once
}

// New 创建断点镜像，root为源码根目录，可以为空
//
// The mirror registers itself on reg and mirrors every breakpoint already
// present before returning.
func New(root string, reg Registry, target TargetDebugger, opts ...Option) (*Mirror, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	if target == nil {
		return nil, ErrNilTarget
	}

	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("sources root %s: %w", root, err)
		}
		root = abs
	}

	m := &Mirror{
		root:      root,
		prefix:    DefaultSourcesPrefix,
		target:    target,
		logger:    log.New(ioutil.Discard, "", 0),
		exec:      newExecutor(),
		listeners: make(map[*breakpoint.LineBreakpoint]func()),
		entries:   make(map[*breakpoint.LineBreakpoint]*entry),
		disposed:  atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.unregister = reg.AddListener(m)
	for _, bp := range reg.Breakpoints() {
		m.BreakpointAdded(bp)
	}
	return m, nil
}

// BreakpointAdded implements breakpoint.Listener.
//
// A hidden line breakpoint gets no entry and is never sent, but unlike the other
// ineligible kinds it does get a property listener, so un-hiding it later
// mirrors it.
func (m *Mirror) BreakpointAdded(bp breakpoint.Breakpoint) {
	lb, ok := bp.(*breakpoint.LineBreakpoint)
	if !ok || m.disposed.Load() {
		return
	}
	if err := m.exec.do(func() error { return m.add(lb) }); err != nil && err != errExecutorClosed {
		m.logger.Printf("mirror %s: %v", lb, err)
	}
}

// BreakpointRemoved implements breakpoint.Listener.
func (m *Mirror) BreakpointRemoved(bp breakpoint.Breakpoint) {
	lb, ok := bp.(*breakpoint.LineBreakpoint)
	if !ok || m.disposed.Load() {
		return
	}
	if err := m.exec.do(func() error { return m.remove(lb) }); err != nil && err != errExecutorClosed {
		m.logger.Printf("unmirror %s: %v", lb, err)
	}
}

// Tracked 返回当前已镜像到目标调试器的断点，按断点编号排序
func (m *Mirror) Tracked() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for lb, e := range m.entries {
		out = append(out, Entry{ID: e.id, Breakpoint: lb, Descriptor: e.desc})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Breakpoint.ID() < out[j].Breakpoint.ID() })
	return out
}

// Dispose 会话结束时调用，从目标调试器移除所有镜像断点并注销所有监听器
func (m *Mirror) Dispose() {
	m.disposeOnce.Do(func() {
		// wait out echoes already past their checks
		m.echoMu.Lock()
		m.disposed.Store(true)
		m.echoMu.Unlock()

		if m.unregister != nil {
			m.unregister()
		}

		m.exec.do(func() error {
			m.mu.Lock()
			entries, listeners := m.entries, m.listeners
			m.entries = make(map[*breakpoint.LineBreakpoint]*entry)
			m.listeners = make(map[*breakpoint.LineBreakpoint]func())
			m.mu.Unlock()

			for _, detach := range listeners {
				detach()
			}

			tracked := make([]*breakpoint.LineBreakpoint, 0, len(entries))
			for lb := range entries {
				tracked = append(tracked, lb)
			}
			sort.Slice(tracked, func(i, j int) bool { return tracked[i].ID() < tracked[j].ID() })

			for _, lb := range tracked {
				e := entries[lb]
				if e.cancel != nil {
					e.cancel()
				}
				if err := m.callRemove(e.id); err != nil {
					m.logger.Printf("dispose %s: %v", e.id, err)
				}
			}
			for _, lb := range tracked {
				lb.SetValidity(breakpoint.ValidityUnknown, "")
			}
			return nil
		})
		m.exec.close()
	})
}

func targetID(lb *breakpoint.LineBreakpoint) string {
	return fmt.Sprintf("bp%d", lb.ID())
}

// add runs on the executor.
func (m *Mirror) add(lb *breakpoint.LineBreakpoint) error {
	if m.disposed.Load() {
		return nil
	}

	m.mu.Lock()
	if _, ok := m.listeners[lb]; !ok {
		m.listeners[lb] = lb.AddPropertyListener(m.propertyChanged)
	}
	m.mu.Unlock()

	return m.submit(lb)
}

// remove runs on the executor.
func (m *Mirror) remove(lb *breakpoint.LineBreakpoint) error {
	m.mu.Lock()
	detach, ok := m.listeners[lb]
	delete(m.listeners, lb)
	m.mu.Unlock()

	if ok {
		detach()
	}
	return m.withdraw(lb, false)
}

// update runs on the executor.
func (m *Mirror) update(lb *breakpoint.LineBreakpoint) error {
	if m.disposed.Load() {
		return nil
	}

	m.mu.Lock()
	_, attached := m.listeners[lb]
	m.mu.Unlock()

	if !attached {
		return nil
	}
	return m.submit(lb)
}

// submit forwards the current state of lb to the target, replacing whatever
// was mirrored for it before.
func (m *Mirror) submit(lb *breakpoint.LineBreakpoint) error {
	// 只镜像非隐藏的行断点
	if lb.Hidden() {
		return m.withdraw(lb, false)
	}

	file, ok := m.resolve(lb.URL())
	if !ok {
		m.logger.Printf("skip %s: unresolvable location", lb)
		return m.withdraw(lb, true)
	}
	desc, err := NewDescriptor(file, lb.Line(), lb.Condition(), lb.Enabled(), true)
	if err != nil {
		m.logger.Printf("skip %s: %v", lb, err)
		return m.withdraw(lb, true)
	}

	id := targetID(lb)
	h, err := m.callAdd(id, desc)
	if err != nil {
		// not mirrored, drop whatever the target still holds for the old state
		if werr := m.withdraw(lb, false); werr != nil {
			m.logger.Printf("withdraw %s: %v", id, werr)
		}
		return fmt.Errorf("add %s: %w", id, err)
	}

	e := &entry{id: id, desc: desc, handle: h}

	m.mu.Lock()
	prev := m.entries[lb]
	m.entries[lb] = e
	m.mu.Unlock()

	if prev != nil && prev.cancel != nil {
		prev.cancel()
	}

	if h == nil {
		return nil
	}

	cancel := h.OnValidityChange(func(v breakpoint.Validity, message string) {
		m.echo(lb, e, v, message)
	})
	m.mu.Lock()
	current := m.entries[lb] == e
	if current {
		e.cancel = cancel
	}
	m.mu.Unlock()

	if !current {
		cancel()
		return nil
	}

	v, msg := h.Validity()
	m.echo(lb, e, v, msg)
	return nil
}

// withdraw removes lb from the target but leaves its property listener
// attached, so a later edit can bring it back.
func (m *Mirror) withdraw(lb *breakpoint.LineBreakpoint, echo bool) error {
	m.mu.Lock()
	e, ok := m.entries[lb]
	delete(m.entries, lb)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	err := m.callRemove(e.id)
	if echo {
		lb.SetValidity(breakpoint.ValidityUnknown, "")
	}
	return err
}

// echo writes the target's validity onto lb, unless e has been replaced or
// removed in the meantime.
func (m *Mirror) echo(lb *breakpoint.LineBreakpoint, e *entry, v breakpoint.Validity, message string) {
	m.echoMu.RLock()
	defer m.echoMu.RUnlock()

	if m.disposed.Load() {
		return
	}
	m.mu.Lock()
	current := m.entries[lb] == e
	m.mu.Unlock()

	if current {
		lb.SetValidity(v, message)
	}
}

func (m *Mirror) propertyChanged(ev breakpoint.PropertyEvent) {
	switch ev.Property {
	case breakpoint.PropValidity, breakpoint.PropDisposed:
		// our own echo, or the breakpoint is going away
		return
	}
	lb, ok := ev.Source.(*breakpoint.LineBreakpoint)
	if !ok || m.disposed.Load() {
		return
	}
	if err := m.exec.do(func() error { return m.update(lb) }); err != nil && err != errExecutorClosed {
		m.logger.Printf("update %s: %v", lb, err)
	}
}

// resolve maps a breakpoint url to the path handed to the target: files under
// the sources root become <prefix>/<relative path>, anything else keeps its
// absolute path.
func (m *Mirror) resolve(rawurl string) (string, bool) {
	p, err := breakpoint.URLToPath(rawurl)
	if err != nil {
		return "", false
	}
	if m.root == "" {
		return p, true
	}

	rel, err := filepath.Rel(m.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p, true
	}
	return path.Join(m.prefix, filepath.ToSlash(rel)), true
}

// callAdd and callRemove turn a panicking target into an error.
func (m *Mirror) callAdd(id string, d Descriptor) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("target panic: %v", r)
		}
	}()
	return m.target.AddLineBreakpoint(id, d)
}

func (m *Mirror) callRemove(id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("target panic: %v", r)
		}
	}()
	return m.target.RemoveBreakpoint(id)
}
