package notify

import (
	"context"
	"sync"
	"time"

	"github.com/suryanavv/BridgeSpace/pkg/events"
)

// defaultCoalesceWindow 是突发事件的合并窗口：
// 一个批次上传 10 个文件只应触发一次列表刷新，而不是 10 次。
const defaultCoalesceWindow = 300 * time.Millisecond

// TextRefresher 在收到文本变更事件时拉取远端内容并覆盖本地会话。
type TextRefresher interface {
	OnRemoteChange(ctx context.Context, scope string)
}

// Notifier 消费变更事件流，把同一空间短时间内的事件合并为一次广播。
// 它实现了 kafka.EventHandler。
type Notifier struct {
	hub    *Hub
	texts  TextRefresher
	window time.Duration

	mu      sync.Mutex
	pending map[string]events.ChangeEvent
	timers  map[string]*time.Timer
	closed  bool
}

// NewNotifier 创建一个新的 Notifier。texts 可以为 nil；window <= 0 时使用默认值。
func NewNotifier(hub *Hub, texts TextRefresher, window time.Duration) *Notifier {
	if window <= 0 {
		window = defaultCoalesceWindow
	}
	return &Notifier{
		hub:     hub,
		texts:   texts,
		window:  window,
		pending: make(map[string]events.ChangeEvent),
		timers:  make(map[string]*time.Timer),
	}
}

// Handle 处理一条变更事件。文本变更立即同步到本地会话；
// 列表刷新提示进入合并窗口，窗口结束时只广播最新一条。
func (n *Notifier) Handle(ctx context.Context, ev events.ChangeEvent) error {
	if ev.Table == events.TableTexts && n.texts != nil {
		n.texts.OnRemoteChange(ctx, ev.Scope)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.pending[ev.Scope] = ev
	if _, ok := n.timers[ev.Scope]; !ok {
		scope := ev.Scope
		n.timers[scope] = time.AfterFunc(n.window, func() {
			n.fire(scope)
		})
	}
	return nil
}

// Close 停止所有待触发的合并窗口。
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for scope, t := range n.timers {
		t.Stop()
		delete(n.timers, scope)
	}
}

func (n *Notifier) fire(scope string) {
	n.mu.Lock()
	ev, ok := n.pending[scope]
	delete(n.pending, scope)
	delete(n.timers, scope)
	n.mu.Unlock()

	if ok {
		n.hub.Broadcast(scope, ev)
	}
}
