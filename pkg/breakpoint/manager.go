package breakpoint

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound 断点不存在
var ErrNotFound = errors.New("breakpoint not found")

// Listener 断点添加、删除事件监听器
type Listener interface {
	BreakpointAdded(bp Breakpoint)
	BreakpointRemoved(bp Breakpoint)
}

// ListenerFuncs adapts two plain functions to a Listener, either may be nil.
type ListenerFuncs struct {
	Added   func(bp Breakpoint)
	Removed func(bp Breakpoint)
}

func (l ListenerFuncs) BreakpointAdded(bp Breakpoint) {
	if l.Added != nil {
		l.Added(bp)
	}
}

func (l ListenerFuncs) BreakpointRemoved(bp Breakpoint) {
	if l.Removed != nil {
		l.Removed(bp)
	}
}

// Breakpoints 断点列表，按编号排序
type Breakpoints []Breakpoint

// Len 返回长度
func (b Breakpoints) Len() int {
	return len(b)
}

// Less 检查b[i]是否小于b[j]
func (b Breakpoints) Less(i, j int) bool {
	return b[i].ID() < b[j].ID()
}

// Swap 交换b[i]和b[j]
func (b Breakpoints) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}

// Manager 断点管理器，一个调试会话内所有断点的注册表
type Manager struct {
	mu          sync.RWMutex
	breakpoints map[uint64]Breakpoint

	lmu       sync.Mutex
	lseq      uint64
	listeners map[uint64]Listener
}

// NewManager 创建一个空的断点管理器
func NewManager() *Manager {
	return &Manager{
		breakpoints: make(map[uint64]Breakpoint),
		listeners:   make(map[uint64]Listener),
	}
}

// Breakpoints 返回当前所有断点
func (m *Manager) Breakpoints() []Breakpoint {
	m.mu.RLock()
	bps := make(Breakpoints, 0, len(m.breakpoints))
	for _, bp := range m.breakpoints {
		bps = append(bps, bp)
	}
	m.mu.RUnlock()

	sort.Sort(bps)
	return bps
}

// Get 按编号查找断点
func (m *Manager) Get(id uint64) (Breakpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bp, ok := m.breakpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	return bp, nil
}

// Add 注册断点并通知监听者，重复添加同一断点不会重复通知
func (m *Manager) Add(bp Breakpoint) {
	m.mu.Lock()
	if _, ok := m.breakpoints[bp.ID()]; ok {
		m.mu.Unlock()
		return
	}
	m.breakpoints[bp.ID()] = bp
	m.mu.Unlock()

	for _, l := range m.snapshotListeners() {
		l := l
		safeCall(func() { l.BreakpointAdded(bp) })
	}
}

// Remove 移除断点并通知监听者
func (m *Manager) Remove(id uint64) (Breakpoint, error) {
	m.mu.Lock()
	bp, ok := m.breakpoints[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(m.breakpoints, id)
	m.mu.Unlock()

	for _, l := range m.snapshotListeners() {
		l := l
		safeCall(func() { l.BreakpointRemoved(bp) })
	}
	disposeBreakpoint(bp)
	return bp, nil
}

// RemoveAll 移除所有断点
func (m *Manager) RemoveAll() {
	for _, bp := range m.Breakpoints() {
		m.Remove(bp.ID())
	}
}

// AddListener 注册全局的断点添加、删除监听器，返回值用于注销
func (m *Manager) AddListener(l Listener) func() {
	m.lmu.Lock()
	m.lseq++
	key := m.lseq
	m.listeners[key] = l
	m.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			delete(m.listeners, key)
			m.lmu.Unlock()
		})
	}
}

func (m *Manager) snapshotListeners() []Listener {
	m.lmu.Lock()
	defer m.lmu.Unlock()

	keys := make([]uint64, 0, len(m.listeners))
	for k := range m.listeners {
		keys = append(keys, k)
	}
	sortUint64s(keys)

	ls := make([]Listener, 0, len(keys))
	for _, k := range keys {
		ls = append(ls, m.listeners[k])
	}
	return ls
}

func disposeBreakpoint(bp Breakpoint) {
	switch b := bp.(type) {
	case *LineBreakpoint:
		b.Dispose()
	case *FunctionBreakpoint:
		b.Dispose()
	}
}
