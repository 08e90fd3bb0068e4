package mirror_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
	"github.com/hitzhangjie/bpmirror/pkg/mirror"
	"github.com/hitzhangjie/bpmirror/pkg/mirror/mirrortest"
	"github.com/hitzhangjie/bpmirror/pkg/target"
)

func idOf(bp breakpoint.Breakpoint) string {
	return fmt.Sprintf("bp%d", bp.ID())
}

func lineAt(root, rel string, line int) *breakpoint.LineBreakpoint {
	return breakpoint.NewLineBreakpoint(breakpoint.FileURL(filepath.Join(root, rel)), line)
}

func TestMirror_ExampleScenario(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")

	mgr := breakpoint.NewManager()
	bp := lineAt(src, "Foo.java", 10)
	mgr.Add(bp)

	rec := mirrortest.NewRecorder()
	m, err := mirror.New(src, mgr, rec)
	require.NoError(t, err)

	want := mirror.Descriptor{FilePath: "sources/Foo.java", Line: 10, Enabled: true, Hidden: true}
	require.Equal(t, []mirrortest.Call{{Op: mirrortest.OpAdd, ID: idOf(bp), Descriptor: want}}, rec.Calls())

	bp.SetEnabled(false)
	adds := rec.Adds()
	require.Len(t, adds, 2)
	assert.Equal(t, idOf(bp), adds[1].ID)
	assert.False(t, adds[1].Descriptor.Enabled)
	assert.Equal(t, "sources/Foo.java", adds[1].Descriptor.FilePath)
	assert.Equal(t, 10, adds[1].Descriptor.Line)

	m.Dispose()
	assert.Equal(t, []mirrortest.Call{{Op: mirrortest.OpRemove, ID: idOf(bp)}}, rec.Removes())
}

func TestMirror_InitialBreakpoints(t *testing.T) {
	root := t.TempDir()
	mgr := breakpoint.NewManager()

	inRoot := lineAt(root, "pkg/a.go", 3)
	outside := breakpoint.NewLineBreakpoint("file:///opt/lib/b.go", 8)
	outside.SetCondition("n == 1")
	hidden := lineAt(root, "c.go", 1)
	hidden.SetHidden(true)
	fn := breakpoint.NewFunctionBreakpoint("main.main")
	remote := breakpoint.NewLineBreakpoint("http://example.com/d.go", 2)

	for _, bp := range []breakpoint.Breakpoint{inRoot, outside, hidden, fn, remote} {
		mgr.Add(bp)
	}

	rec := mirrortest.NewRecorder()
	m, err := mirror.New(root, mgr, rec)
	require.NoError(t, err)
	defer m.Dispose()

	adds := rec.Adds()
	require.Len(t, adds, 2)
	assert.Equal(t, idOf(inRoot), adds[0].ID)
	assert.Equal(t, "sources/pkg/a.go", adds[0].Descriptor.FilePath)
	assert.Equal(t, idOf(outside), adds[1].ID)
	assert.Equal(t, filepath.FromSlash("/opt/lib/b.go"), adds[1].Descriptor.FilePath)
	assert.Equal(t, "n == 1", adds[1].Descriptor.Condition)
	assert.True(t, adds[1].Descriptor.Hidden)

	tracked := m.Tracked()
	require.Len(t, tracked, 2)
	assert.Same(t, inRoot, tracked[0].Breakpoint)
	assert.Same(t, outside, tracked[1].Breakpoint)
}

func TestMirror_HiddenNeverAdded(t *testing.T) {
	mgr := breakpoint.NewManager()
	rec := mirrortest.NewRecorder()
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)
	defer m.Dispose()

	bp := breakpoint.NewLineBreakpoint("file:///a.go", 1)
	bp.SetHidden(true)
	mgr.Add(bp)
	mgr.Add(breakpoint.NewFunctionBreakpoint("f"))

	assert.Empty(t, rec.Calls())
	assert.Empty(t, m.Tracked())
	// watched so that un-hiding mirrors it, but nothing sent
	assert.Equal(t, 1, bp.ListenerCount())

	bp.SetCondition("still hidden")
	assert.Empty(t, rec.Calls())

	bp.SetHidden(false)
	adds := rec.Adds()
	require.Len(t, adds, 1)
	assert.Equal(t, "still hidden", adds[0].Descriptor.Condition)
}

func TestMirror_HiddenToggle(t *testing.T) {
	mgr := breakpoint.NewManager()
	rec := mirrortest.NewRecorder()
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)
	defer m.Dispose()

	bp := breakpoint.NewLineBreakpoint("file:///a.go", 1)
	mgr.Add(bp)
	require.Len(t, rec.Adds(), 1)

	bp.SetHidden(true)
	assert.Equal(t, []mirrortest.Call{{Op: mirrortest.OpRemove, ID: idOf(bp)}}, rec.Removes())
	assert.Empty(t, m.Tracked())

	bp.SetCondition("ignored while hidden")
	assert.Len(t, rec.Adds(), 1)

	bp.SetHidden(false)
	adds := rec.Adds()
	require.Len(t, adds, 2)
	assert.Equal(t, "ignored while hidden", adds[1].Descriptor.Condition)
	assert.Len(t, m.Tracked(), 1)
}

func TestMirror_RemoveSymmetry(t *testing.T) {
	mgr := breakpoint.NewManager()
	rec := mirrortest.NewRecorder()
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)
	defer m.Dispose()

	a := breakpoint.NewLineBreakpoint("file:///a.go", 1)
	b := breakpoint.NewLineBreakpoint("file:///b.go", 2)
	mgr.Add(a)
	mgr.Add(b)

	_, err = mgr.Remove(a.ID())
	require.NoError(t, err)
	assert.Equal(t, []mirrortest.Call{{Op: mirrortest.OpRemove, ID: idOf(a)}}, rec.Removes())
	assert.Equal(t, 0, a.ListenerCount())

	// second removal path and untracked breakpoints are no-ops
	m.BreakpointRemoved(a)
	m.BreakpointRemoved(breakpoint.NewLineBreakpoint("file:///c.go", 3))
	m.BreakpointRemoved(breakpoint.NewFunctionBreakpoint("f"))
	assert.Len(t, rec.Removes(), 1)

	assert.Equal(t, []string{idOf(b)}, rec.Live())
}

func TestMirror_UpdateReplaces(t *testing.T) {
	mgr := breakpoint.NewManager()
	rec := mirrortest.NewRecorder()
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)
	defer m.Dispose()

	bp := breakpoint.NewLineBreakpoint("file:///a.go", 1)
	mgr.Add(bp)

	bp.SetCondition("x > 0")
	bp.SetLine(5)
	bp.SetURL("file:///b.go")

	adds := rec.Adds()
	require.Len(t, adds, 4)
	for _, c := range adds {
		assert.Equal(t, idOf(bp), c.ID)
	}
	last := adds[3].Descriptor
	assert.Equal(t, "x > 0", last.Condition)
	assert.Equal(t, 5, last.Line)
	assert.Equal(t, "/b.go", last.FilePath)
	assert.Empty(t, rec.Removes())

	tracked := m.Tracked()
	require.Len(t, tracked, 1)
	assert.Equal(t, last, tracked[0].Descriptor)
}

func TestMirror_UpdateToUnresolvable(t *testing.T) {
	mgr := breakpoint.NewManager()
	rec := mirrortest.NewRecorder()
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)
	defer m.Dispose()

	bp := breakpoint.NewLineBreakpoint("file:///a.go", 1)
	mgr.Add(bp)
	rec.Handle(idOf(bp)).Set(breakpoint.ValidityValid, "")

	bp.SetURL("jar:file:///lib.jar!/A.class")
	assert.Len(t, rec.Removes(), 1)
	assert.Empty(t, m.Tracked())
	assert.Equal(t, breakpoint.ValidityUnknown, bp.Validity().Validity)

	bp.SetURL("file:///a.go")
	assert.Len(t, rec.Adds(), 2)
}

func TestMirror_ValidityEcho(t *testing.T) {
	mgr := breakpoint.NewManager()
	rec := mirrortest.NewRecorder()
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)
	defer m.Dispose()

	bp := breakpoint.NewLineBreakpoint("file:///a.go", 1)

	var echoed []breakpoint.ValidityState
	bp.AddPropertyListener(func(ev breakpoint.PropertyEvent) {
		if ev.Property == breakpoint.PropValidity {
			echoed = append(echoed, ev.New.(breakpoint.ValidityState))
		}
	})
	mgr.Add(bp)

	require.Len(t, echoed, 1)
	assert.Equal(t, breakpoint.ValidityPending, echoed[0].Validity)

	h := rec.Handle(idOf(bp))
	h.Set(breakpoint.ValidityInvalid, "condition does not compile")
	require.Len(t, echoed, 2)
	assert.Equal(t, "condition does not compile", echoed[1].String())
	assert.Equal(t, breakpoint.ValidityInvalid, bp.Validity().Validity)

	h.Set(breakpoint.ValidityValid, "")
	require.Len(t, echoed, 3)
	assert.Equal(t, breakpoint.ValidityValid, bp.Validity().Validity)

	// echoes never trigger a re-add
	assert.Len(t, rec.Adds(), 1)
}

// stickyTarget never closes handles, so stale ones keep firing.
type stickyTarget struct {
	mu      sync.Mutex
	handles map[string][]*target.Handle
	removes []string
}

func newStickyTarget() *stickyTarget {
	return &stickyTarget{handles: map[string][]*target.Handle{}}
}

func (s *stickyTarget) AddLineBreakpoint(id string, d mirror.Descriptor) (mirror.Handle, error) {
	h := target.NewHandle(breakpoint.ValidityPending, "")
	s.mu.Lock()
	s.handles[id] = append(s.handles[id], h)
	s.mu.Unlock()
	return h, nil
}

func (s *stickyTarget) RemoveBreakpoint(id string) error {
	s.mu.Lock()
	s.removes = append(s.removes, id)
	s.mu.Unlock()
	return nil
}

func (s *stickyTarget) all(id string) []*target.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*target.Handle(nil), s.handles[id]...)
}

func TestMirror_StaleHandleIgnored(t *testing.T) {
	mgr := breakpoint.NewManager()
	tgt := newStickyTarget()
	m, err := mirror.New("", mgr, tgt)
	require.NoError(t, err)

	bp := breakpoint.NewLineBreakpoint("file:///a.go", 1)
	mgr.Add(bp)
	bp.SetCondition("y")

	hs := tgt.all(idOf(bp))
	require.Len(t, hs, 2)
	assert.Equal(t, 0, hs[0].Subscribers())

	hs[0].Set(breakpoint.ValidityValid, "stale")
	assert.Equal(t, breakpoint.ValidityPending, bp.Validity().Validity)

	hs[1].Set(breakpoint.ValidityValid, "fresh")
	assert.Equal(t, "fresh", bp.Validity().Message)

	m.Dispose()
	assert.Equal(t, []string{idOf(bp)}, tgt.removes)
	assert.Equal(t, breakpoint.ValidityUnknown, bp.Validity().Validity)
	assert.Equal(t, 0, hs[1].Subscribers())

	hs[1].Set(breakpoint.ValidityInvalid, "after dispose")
	assert.Equal(t, breakpoint.ValidityUnknown, bp.Validity().Validity)
}

func TestMirror_NoEchoAfterDispose(t *testing.T) {
	for i := 0; i < 50; i++ {
		mgr := breakpoint.NewManager()
		tgt := newStickyTarget()
		m, err := mirror.New("", mgr, tgt)
		require.NoError(t, err)

		bp := breakpoint.NewLineBreakpoint("file:///a.go", 1)
		mgr.Add(bp)
		hs := tgt.all(idOf(bp))
		require.Len(t, hs, 1)

		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-stop:
					return
				default:
					hs[0].Set(breakpoint.ValidityValid, "racing")
				}
			}
		}()

		m.Dispose()
		close(stop)
		<-done

		assert.Equal(t, breakpoint.ValidityUnknown, bp.Validity().Validity, "iteration %d", i)
	}
}

func TestMirror_AddFailure(t *testing.T) {
	mgr := breakpoint.NewManager()
	rec := mirrortest.NewRecorder()
	rec.FailAdd = func(id string, d mirror.Descriptor) error {
		if d.Condition == "bad" {
			return errors.New("rejected")
		}
		return nil
	}
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)
	defer m.Dispose()

	other := 0
	mgr.AddListener(breakpoint.ListenerFuncs{Added: func(breakpoint.Breakpoint) { other++ }})

	bp := breakpoint.NewLineBreakpoint("file:///a.go", 1)
	bp.SetCondition("bad")
	mgr.Add(bp)

	assert.Equal(t, 1, other)
	assert.Empty(t, m.Tracked())
	assert.Empty(t, rec.Live())

	// a later edit tries again
	bp.SetCondition("good")
	assert.Len(t, m.Tracked(), 1)

	// failing re-add drops the old entry
	bp.SetCondition("bad")
	assert.Empty(t, m.Tracked())
	assert.Equal(t, []mirrortest.Call{{Op: mirrortest.OpRemove, ID: idOf(bp)}}, rec.Removes())
}

type panicTarget struct{}

func (panicTarget) AddLineBreakpoint(string, mirror.Descriptor) (mirror.Handle, error) {
	panic("target exploded")
}

func (panicTarget) RemoveBreakpoint(string) error {
	panic("target exploded")
}

func TestMirror_TargetPanic(t *testing.T) {
	mgr := breakpoint.NewManager()
	mgr.Add(breakpoint.NewLineBreakpoint("file:///a.go", 1))

	var m *mirror.Mirror
	var err error
	assert.NotPanics(t, func() {
		m, err = mirror.New("", mgr, panicTarget{})
	})
	require.NoError(t, err)
	assert.Empty(t, m.Tracked())

	assert.NotPanics(t, func() {
		mgr.Add(breakpoint.NewLineBreakpoint("file:///b.go", 2))
		m.Dispose()
	})
}

func TestMirror_NoHandle(t *testing.T) {
	mgr := breakpoint.NewManager()
	rec := mirrortest.NewRecorder()
	rec.NoHandle = true
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)

	bp := breakpoint.NewLineBreakpoint("file:///a.go", 1)
	mgr.Add(bp)
	assert.Len(t, m.Tracked(), 1)
	assert.Equal(t, breakpoint.ValidityUnknown, bp.Validity().Validity)

	m.Dispose()
	assert.Len(t, rec.Removes(), 1)
}

func TestMirror_Dispose(t *testing.T) {
	mgr := breakpoint.NewManager()
	a := breakpoint.NewLineBreakpoint("file:///a.go", 1)
	b := breakpoint.NewLineBreakpoint("file:///b.go", 2)
	mgr.Add(a)
	mgr.Add(b)

	rec := mirrortest.NewRecorder()
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)
	rec.Handle(idOf(a)).Set(breakpoint.ValidityValid, "")
	require.Equal(t, breakpoint.ValidityValid, a.Validity().Validity)
	require.Equal(t, 1, a.ListenerCount())

	m.Dispose()
	m.Dispose()

	assert.Equal(t, []mirrortest.Call{
		{Op: mirrortest.OpRemove, ID: idOf(a)},
		{Op: mirrortest.OpRemove, ID: idOf(b)},
	}, rec.Removes())
	assert.Equal(t, breakpoint.ValidityUnknown, a.Validity().Validity)
	assert.Equal(t, 0, a.ListenerCount())
	assert.Equal(t, 0, b.ListenerCount())
	assert.Empty(t, m.Tracked())

	// unregistered from the registry
	mgr.Add(breakpoint.NewLineBreakpoint("file:///c.go", 3))
	a.SetLine(4)
	_, err = mgr.Remove(b.ID())
	require.NoError(t, err)
	assert.Len(t, rec.Calls(), 4)
}

func TestNew_Errors(t *testing.T) {
	_, err := mirror.New("", nil, mirrortest.NewRecorder())
	assert.Equal(t, mirror.ErrNilRegistry, err)

	_, err = mirror.New("", breakpoint.NewManager(), nil)
	assert.Equal(t, mirror.ErrNilTarget, err)
}

func TestMirror_ConcurrentEdits(t *testing.T) {
	mgr := breakpoint.NewManager()
	rec := mirrortest.NewRecorder()
	m, err := mirror.New("", mgr, rec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	bps := make([]*breakpoint.LineBreakpoint, 8)
	for i := range bps {
		bps[i] = breakpoint.NewLineBreakpoint(fmt.Sprintf("file:///f%d.go", i), 1)
		wg.Add(1)
		go func(bp *breakpoint.LineBreakpoint) {
			defer wg.Done()
			mgr.Add(bp)
			for line := 2; line <= 5; line++ {
				bp.SetLine(line)
			}
		}(bps[i])
	}
	wg.Wait()

	tracked := m.Tracked()
	require.Len(t, tracked, len(bps))
	for _, e := range tracked {
		assert.Equal(t, 5, e.Descriptor.Line)
	}

	// per breakpoint, the target sees lines in the order they were set
	seen := map[string]int{}
	for _, c := range rec.Adds() {
		assert.Greater(t, c.Descriptor.Line, seen[c.ID])
		seen[c.ID] = c.Descriptor.Line
	}

	m.Dispose()
	assert.Len(t, rec.Removes(), len(bps))
	assert.Empty(t, rec.Live())
}
