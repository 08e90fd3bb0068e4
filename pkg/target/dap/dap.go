// Package dap 通过Debug Adapter Protocol连接的目标调试器
//
// DAP only knows "the full set of breakpoints of one source file", so Target
// keeps the mirrored breakpoints grouped per file and re-sends the whole file
// on every add or remove. Disabled breakpoints are remembered but not sent.
package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net"
	"path"
	"sync"
	"time"

	godap "github.com/google/go-dap"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
	"github.com/hitzhangjie/bpmirror/pkg/mirror"
	"github.com/hitzhangjie/bpmirror/pkg/target"
)

// DefaultTimeout 单个请求的默认超时时间
const DefaultTimeout = 5 * time.Second

// ErrClosed 连接已关闭
var ErrClosed = errors.New("dap: connection closed")

// Option DAP目标调试器选项
type Option func(t *Target)

// WithTimeout 设置请求超时时间
func WithTimeout(d time.Duration) Option {
	return func(t *Target) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger 设置日志输出
func WithLogger(l *log.Logger) Option {
	return func(t *Target) {
		if l != nil {
			t.logger = l
		}
	}
}

type lineBreakpoint struct {
	id     string
	desc   mirror.Descriptor
	handle *target.Handle
	dapID  int
}

// Target 实现mirror.TargetDebugger
type Target struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	wmu    sync.Mutex
	seq    *atomic.Int64

	timeout time.Duration
	logger  *log.Logger

	callMu sync.Mutex // one setBreakpoints round trip at a time

	mu      sync.Mutex
	byID    map[string]*lineBreakpoint
	files   map[string][]*lineBreakpoint // insertion order per file
	byDAPID map[int]*lineBreakpoint
	pending map[int]chan godap.Message

	closed    *atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New 在已建立的连接上创建目标调试器，并启动读协程
func New(rwc io.ReadWriteCloser, opts ...Option) *Target {
	t := &Target{
		rwc:     rwc,
		reader:  bufio.NewReader(rwc),
		seq:     atomic.NewInt64(0),
		timeout: DefaultTimeout,
		logger:  log.New(ioutil.Discard, "", 0),
		byID:    make(map[string]*lineBreakpoint),
		files:   make(map[string][]*lineBreakpoint),
		byDAPID: make(map[int]*lineBreakpoint),
		pending: make(map[int]chan godap.Message),
		closed:  atomic.NewBool(false),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.readLoop()
	return t
}

// Dial 通过tcp连接调试适配器
func Dial(ctx context.Context, address string, opts ...Option) (*Target, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return New(conn, opts...), nil
}

// Initialize 发送initialize请求，返回适配器的能力描述
func (t *Target) Initialize(ctx context.Context) (*godap.Capabilities, error) {
	seq := t.nextSeq()
	req := &godap.InitializeRequest{
		Request: newRequest(seq, "initialize"),
		Arguments: godap.InitializeRequestArguments{
			ClientID:        "bpmirror",
			ClientName:      "bpmirror",
			AdapterID:       "bpmirror",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			PathFormat:      "path",
		},
	}
	msg, err := t.request(ctx, seq, req)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	resp, ok := msg.(*godap.InitializeResponse)
	if !ok {
		return nil, fmt.Errorf("initialize: unexpected response %T", msg)
	}
	return &resp.Body, nil
}

// AddLineBreakpoint 添加或替换断点id，并重新下发所在文件的断点集合
func (t *Target) AddLineBreakpoint(id string, d mirror.Descriptor) (mirror.Handle, error) {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	if t.closed.Load() {
		return nil, ErrClosed
	}

	t.mu.Lock()
	b, exists := t.byID[id]
	oldFile := ""
	if exists {
		oldFile = b.desc.FilePath
		if oldFile != d.FilePath {
			t.files[oldFile] = without(t.files[oldFile], b)
			t.files[d.FilePath] = append(t.files[d.FilePath], b)
		}
		b.desc = d
	} else {
		b = &lineBreakpoint{
			id:     id,
			desc:   d,
			handle: target.NewHandle(breakpoint.ValidityPending, ""),
		}
		t.byID[id] = b
		t.files[d.FilePath] = append(t.files[d.FilePath], b)
	}
	t.mu.Unlock()

	if !d.Enabled {
		b.handle.Set(breakpoint.ValidityUnknown, "disabled")
	} else {
		b.handle.Set(breakpoint.ValidityPending, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	err := t.syncFile(ctx, d.FilePath)
	if err == nil && oldFile != "" && oldFile != d.FilePath {
		err = t.syncFile(ctx, oldFile)
	}
	if err != nil {
		t.drop(b)
		t.resync(d.FilePath, oldFile)
		return nil, err
	}
	return b.handle, nil
}

// resync re-sends files after a failed add, so the adapter no longer holds the
// dropped breakpoint under its previous location.
func (t *Target) resync(files ...string) {
	seen := map[string]bool{}
	for _, file := range files {
		if file == "" || seen[file] || t.closed.Load() {
			continue
		}
		seen[file] = true

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		if err := t.syncFile(ctx, file); err != nil {
			t.logger.Printf("dap: resync %s: %v", file, err)
		}
		cancel()
	}
}

// RemoveBreakpoint 移除断点id，id不存在时直接返回
func (t *Target) RemoveBreakpoint(id string) error {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	t.mu.Lock()
	b, ok := t.byID[id]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	t.drop(b)
	if t.closed.Load() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	return t.syncFile(ctx, b.desc.FilePath)
}

// Close 关闭连接
func (t *Target) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.rwc.Close()
	})
	return err
}

// Done is closed once the connection is gone.
func (t *Target) Done() <-chan struct{} {
	return t.done
}

func (t *Target) drop(b *lineBreakpoint) {
	t.mu.Lock()
	if t.byID[b.id] == b {
		delete(t.byID, b.id)
	}
	file := b.desc.FilePath
	t.files[file] = without(t.files[file], b)
	if len(t.files[file]) == 0 {
		delete(t.files, file)
	}
	if b.dapID != 0 && t.byDAPID[b.dapID] == b {
		delete(t.byDAPID, b.dapID)
	}
	t.mu.Unlock()

	b.handle.Close()
}

// syncFile sends the enabled breakpoints of file and applies the adapter's
// verdict, response entries match request entries by position.
func (t *Target) syncFile(ctx context.Context, file string) error {
	t.mu.Lock()
	var (
		sent []*lineBreakpoint
		sbps = []godap.SourceBreakpoint{}
	)
	for _, b := range t.files[file] {
		if !b.desc.Enabled {
			continue
		}
		sent = append(sent, b)
		sbps = append(sbps, godap.SourceBreakpoint{
			Line:      b.desc.Line,
			Condition: b.desc.Condition,
		})
	}
	t.mu.Unlock()

	seq := t.nextSeq()
	req := &godap.SetBreakpointsRequest{
		Request: newRequest(seq, "setBreakpoints"),
		Arguments: godap.SetBreakpointsArguments{
			Source:      godap.Source{Name: path.Base(file), Path: file},
			Breakpoints: sbps,
		},
	}
	msg, err := t.request(ctx, seq, req)
	if err != nil {
		return fmt.Errorf("setBreakpoints %s: %w", file, err)
	}
	resp, ok := msg.(*godap.SetBreakpointsResponse)
	if !ok {
		return fmt.Errorf("setBreakpoints %s: unexpected response %T", file, msg)
	}

	type verdict struct {
		h   *target.Handle
		v   breakpoint.Validity
		msg string
	}
	var verdicts []verdict

	t.mu.Lock()
	for i, b := range sent {
		if i >= len(resp.Body.Breakpoints) {
			verdicts = append(verdicts, verdict{b.handle, breakpoint.ValidityInvalid, "no breakpoint returned"})
			continue
		}
		rb := resp.Body.Breakpoints[i]
		if b.dapID != 0 && t.byDAPID[b.dapID] == b {
			delete(t.byDAPID, b.dapID)
		}
		b.dapID = rb.Id
		if rb.Id != 0 {
			t.byDAPID[rb.Id] = b
		}
		v, m := verify(rb)
		verdicts = append(verdicts, verdict{b.handle, v, m})
	}
	t.mu.Unlock()

	for _, vd := range verdicts {
		vd.h.Set(vd.v, vd.msg)
	}
	return nil
}

func verify(rb godap.Breakpoint) (breakpoint.Validity, string) {
	if rb.Verified {
		return breakpoint.ValidityValid, rb.Message
	}
	if rb.Message == "" {
		return breakpoint.ValidityInvalid, "unverified"
	}
	return breakpoint.ValidityInvalid, rb.Message
}

func (t *Target) nextSeq() int {
	return int(t.seq.Inc())
}

func newRequest(seq int, command string) godap.Request {
	return godap.Request{
		ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
	}
}

func (t *Target) request(ctx context.Context, seq int, req godap.Message) (godap.Message, error) {
	ch := make(chan godap.Message, 1)

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.pending[seq] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, seq)
		t.mu.Unlock()
	}()

	t.wmu.Lock()
	err := godap.WriteProtocolMessage(t.rwc, req)
	t.wmu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	select {
	case msg := <-ch:
		if r, ok := msg.(godap.ResponseMessage); ok && !r.GetResponse().Success {
			return nil, fmt.Errorf("adapter error: %s", r.GetResponse().Message)
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrClosed
	}
}

func (t *Target) readLoop() {
	defer t.shutdown()

	for {
		msg, err := godap.ReadProtocolMessage(t.reader)
		if err != nil {
			var fe *godap.DecodeProtocolMessageFieldError
			if errors.As(err, &fe) {
				// a message kind this client does not know, the stream is still in sync
				t.logger.Printf("dap: skip message: %v", err)
				continue
			}
			if !t.closed.Load() && err != io.EOF {
				t.logger.Printf("dap: read: %v", err)
			}
			return
		}
		t.handleMessage(msg)
	}
}

func (t *Target) handleMessage(msg godap.Message) {
	switch m := msg.(type) {
	case godap.ResponseMessage:
		seq := m.GetResponse().RequestSeq
		t.mu.Lock()
		ch, ok := t.pending[seq]
		t.mu.Unlock()
		if ok {
			ch <- msg
		}
	case *godap.BreakpointEvent:
		t.breakpointChanged(m.Body)
	case *godap.TerminatedEvent, *godap.ExitedEvent:
		t.resetAll("terminated")
	}
}

func (t *Target) breakpointChanged(body godap.BreakpointEventBody) {
	t.mu.Lock()
	b, ok := t.byDAPID[body.Breakpoint.Id]
	t.mu.Unlock()
	if !ok {
		return
	}

	switch body.Reason {
	case "removed":
		b.handle.Set(breakpoint.ValidityUnknown, "removed by adapter")
	default:
		v, m := verify(body.Breakpoint)
		b.handle.Set(v, m)
	}
}

func (t *Target) resetAll(message string) {
	t.mu.Lock()
	handles := make([]*target.Handle, 0, len(t.byID))
	for _, b := range t.byID {
		handles = append(handles, b.handle)
	}
	t.mu.Unlock()

	for _, h := range handles {
		h.Set(breakpoint.ValidityUnknown, message)
	}
}

func (t *Target) shutdown() {
	t.closed.Store(true)
	t.rwc.Close()
	t.resetAll("disconnected")
	close(t.done)
}

func without(bps []*lineBreakpoint, b *lineBreakpoint) []*lineBreakpoint {
	out := bps[:0]
	for _, x := range bps {
		if x != b {
			out = append(out, x)
		}
	}
	return out
}
