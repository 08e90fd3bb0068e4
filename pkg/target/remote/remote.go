// Package remote 通过websocket旁路通道连接的目标调试器
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/bpmirror/pkg/breakpoint"
	"github.com/hitzhangjie/bpmirror/pkg/mirror"
	"github.com/hitzhangjie/bpmirror/pkg/target"
)

// 消息类型
const (
	TypeSet    = "breakpoint.set"
	TypeRemove = "breakpoint.remove"
	TypeState  = "breakpoint.state"
)

// ErrDisconnected 连接已断开
var ErrDisconnected = errors.New("remote: disconnected")

// Message websocket消息
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// SetPayload breakpoint.set消息体
type SetPayload struct {
	ID         string `json:"id"`
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
	Condition  string `json:"condition,omitempty"`
	Enabled    bool   `json:"enabled"`
	Hidden     bool   `json:"hidden"`
}

// RemovePayload breakpoint.remove消息体
type RemovePayload struct {
	ID string `json:"id"`
}

// StatePayload breakpoint.state消息体
type StatePayload struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// Option 选项
type Option func(t *Target)

// WithToken 设置Authorization: Bearer头
func WithToken(token string) Option {
	return func(t *Target) {
		t.token = token
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

// WithWriteTimeout 设置写超时时间
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Target) {
		t.writeTimeout = d
	}
}

// Target 实现mirror.TargetDebugger
type Target struct {
	url          string
	token        string
	writeTimeout time.Duration
	logger       *log.Logger

	conn *websocket.Conn
	wmu  sync.Mutex

	mu      sync.Mutex
	handles map[string]*target.Handle

	connected *atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial 连接url指定的websocket服务
func Dial(ctx context.Context, url string, opts ...Option) (*Target, error) {
	t := &Target{
		url:          url,
		writeTimeout: 5 * time.Second,
		logger:       log.New(ioutil.Discard, "", 0),
		handles:      make(map[string]*target.Handle),
		connected:    atomic.NewBool(false),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	headers := http.Header{}
	if t.token != "" {
		headers.Set("Authorization", "Bearer "+t.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	t.conn = conn
	t.connected.Store(true)

	go t.readLoop()
	return t, nil
}

// AddLineBreakpoint 发送breakpoint.set，返回的句柄初始为pending
func (t *Target) AddLineBreakpoint(id string, d mirror.Descriptor) (mirror.Handle, error) {
	if !t.connected.Load() {
		return nil, ErrDisconnected
	}

	t.mu.Lock()
	h, ok := t.handles[id]
	if !ok {
		h = target.NewHandle(breakpoint.ValidityPending, "")
		t.handles[id] = h
	}
	t.mu.Unlock()
	if ok {
		h.Set(breakpoint.ValidityPending, "")
	}

	err := t.send(TypeSet, SetPayload{
		ID:         id,
		FilePath:   d.FilePath,
		LineNumber: d.Line,
		Condition:  d.Condition,
		Enabled:    d.Enabled,
		Hidden:     d.Hidden,
	})
	if err != nil {
		t.forget(id)
		return nil, err
	}
	return h, nil
}

// RemoveBreakpoint 发送breakpoint.remove，id未知时直接返回
func (t *Target) RemoveBreakpoint(id string) error {
	if _, ok := t.forget(id); !ok {
		return nil
	}
	if !t.connected.Load() {
		return nil
	}
	return t.send(TypeRemove, RemovePayload{ID: id})
}

// Close 关闭连接
func (t *Target) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)

		t.wmu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.wmu.Unlock()

		err = t.conn.Close()
	})
	return err
}

// Done is closed when the read loop has exited.
func (t *Target) Done() <-chan struct{} {
	return t.done
}

func (t *Target) forget(id string) (*target.Handle, bool) {
	t.mu.Lock()
	h, ok := t.handles[id]
	delete(t.handles, id)
	t.mu.Unlock()

	if ok {
		h.Close()
	}
	return h, ok
}

func (t *Target) send(msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	data, err := json.Marshal(Message{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

func (t *Target) readLoop() {
	defer t.disconnected()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.connected.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.logger.Printf("remote: read: %v", err)
			}
			return
		}
		t.handleMessage(data)
	}
}

func (t *Target) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Printf("remote: parse message: %v", err)
		return
	}

	switch msg.Type {
	case TypeState:
		var p StatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			t.logger.Printf("remote: parse %s: %v", msg.Type, err)
			return
		}
		v, err := breakpoint.ParseValidity(p.State)
		if err != nil {
			t.logger.Printf("remote: %s %s: %v", msg.Type, p.ID, err)
			return
		}

		t.mu.Lock()
		h, ok := t.handles[p.ID]
		t.mu.Unlock()
		if ok {
			h.Set(v, p.Message)
		}
	default:
		t.logger.Printf("remote: unhandled message type: %s", msg.Type)
	}
}

func (t *Target) disconnected() {
	t.connected.Store(false)
	defer close(t.done)

	t.mu.Lock()
	handles := make([]*target.Handle, 0, len(t.handles))
	for _, h := range t.handles {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	for _, h := range handles {
		h.Set(breakpoint.ValidityUnknown, "disconnected")
	}
}
