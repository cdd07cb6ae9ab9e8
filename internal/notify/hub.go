// Package notify 实现了按空间过滤的变更通知：Kafka 变更事件经过
// 突发合并后，广播给订阅了对应空间的客户端。
package notify

import (
	"sync"

	"github.com/suryanavv/BridgeSpace/pkg/events"
)

// subscriptionBuffer 是每个订阅的通道容量。刷新提示是水平触发的，
// 通道已满时丢弃事件不会丢失信息。
const subscriptionBuffer = 4

// Subscription 是对单个空间变更的一份订阅。
// 生命周期与空间会话绑定：切换空间时必须先 Close 旧订阅，
// 再建立新订阅，避免旧空间的迟到事件泄漏到新空间的视图。
type Subscription struct {
	scope string
	C     chan events.ChangeEvent
	hub   *Hub
	once  sync.Once
}

// Scope 返回订阅的空间。
func (s *Subscription) Scope() string {
	return s.scope
}

// Close 确定性地解除订阅并关闭通道，可安全地重复调用。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
		close(s.C)
	})
}

// Hub 按空间维护订阅集合并派发变更事件。
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub 创建一个新的 Hub。
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe 建立一份对指定空间的订阅。
func (h *Hub) Subscribe(scope string) *Subscription {
	sub := &Subscription{
		scope: scope,
		C:     make(chan events.ChangeEvent, subscriptionBuffer),
		hub:   h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[scope] == nil {
		h.subs[scope] = make(map[*Subscription]struct{})
	}
	h.subs[scope][sub] = struct{}{}
	return sub
}

// Broadcast 把事件派发给空间内的全部订阅者。
// 发送是非阻塞的：消费慢的订阅者丢事件，而不是拖住整个派发。
func (h *Hub) Broadcast(scope string, ev events.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[scope] {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// SubscriberCount 返回某个空间当前的订阅数。
func (h *Hub) SubscriberCount(scope string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[scope])
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.scope]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.scope)
		}
	}
}
