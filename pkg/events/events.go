// Package events 定义了写入 Kafka 变更事件流的消息结构。
package events

import "time"

// 变更事件涉及的逻辑表。
const (
	TableFiles = "shared_files"
	TableTexts = "shared_texts"
)

// 变更事件的动作类型。
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// ChangeEvent 描述某个空间内一次元数据变更。
// 消费方只把它当作刷新提示使用，事件本身不携带完整数据，
// 因此重复投递（at-least-once）是无害的。
type ChangeEvent struct {
	Scope  string    `json:"scope"`
	Table  string    `json:"table"`
	Action string    `json:"action"`
	ItemID string    `json:"item_id,omitempty"`
	At     time.Time `json:"at"`
}
