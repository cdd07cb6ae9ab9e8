package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suryanavv/BridgeSpace/internal/notify"
	"github.com/suryanavv/BridgeSpace/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// EventsHandler 通过 WebSocket 把合并后的变更提示推送给客户端。
type EventsHandler struct {
	hub *notify.Hub
}

// NewEventsHandler 创建一个新的 EventsHandler 实例。
func NewEventsHandler(hub *notify.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// switchMessage 是客户端发来的空间切换消息。
type switchMessage struct {
	Scope string `json:"scope"`
}

// Handle 处理一个事件订阅连接。连接建立时以 ?scope= 指定空间；
// 之后客户端可以发送 {"scope":"..."} 切换空间——旧订阅先被拆除，
// 新订阅才建立，保证旧空间的迟到事件不会泄漏进新空间的视图。
func (h *EventsHandler) Handle(c *gin.Context) {
	scope := c.Query("scope")
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 scope 参数"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	var mu sync.Mutex // 保护 sub 的替换
	sub := h.hub.Subscribe(scope)
	done := make(chan struct{})

	log.Infof("事件订阅已建立: scope=%s", scope)

	// 写循环：把订阅收到的刷新提示推给客户端
	go func() {
		for {
			mu.Lock()
			cur := sub
			mu.Unlock()

			ev, ok := <-cur.C
			if !ok {
				// 订阅被替换（空间切换）或连接正在关闭
				select {
				case <-done:
					return
				default:
					continue
				}
			}
			payload := gin.H{"type": "refresh", "scope": ev.Scope, "table": ev.Table, "action": ev.Action}
			if wErr := conn.WriteJSON(payload); wErr != nil {
				log.Warnf("推送变更提示失败: %v", wErr)
				return
			}
		}
	}()

	// 读循环：处理空间切换消息
	for {
		var msg switchMessage
		if rErr := conn.ReadJSON(&msg); rErr != nil {
			break
		}
		if msg.Scope == "" || msg.Scope == sub.Scope() {
			continue
		}

		mu.Lock()
		old := sub
		old.Close() // 先拆旧订阅
		sub = h.hub.Subscribe(msg.Scope)
		mu.Unlock()
		log.Infof("事件订阅已切换: %s -> %s", old.Scope(), msg.Scope)
	}

	close(done)
	mu.Lock()
	sub.Close()
	mu.Unlock()
}
