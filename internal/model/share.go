// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// SharedFile 定义了 shared_files 表的 ORM 模型。
// 每个文件隶属于且仅隶属于一个空间（ScopeID），按 created_at 倒序展示。
type SharedFile struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Size      int64     `gorm:"not null" json:"size"`
	MimeType  string    `gorm:"type:varchar(127)" json:"mimeType"`
	BlobRef   string    `gorm:"type:varchar(512);not null" json:"blobRef"`
	ScopeID   string    `gorm:"type:varchar(64);not null;index:idx_shared_files_scope" json:"scopeId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SharedFile) TableName() string {
	return "shared_files"
}

// SharedText 定义了 shared_texts 表的 ORM 模型。
// 每个空间至多一行，由唯一索引兜底；写入方仍然采用"先查后写"，
// 并发首写撞到唯一索引时重查一次改走更新路径。
type SharedText struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Content   string    `gorm:"type:text" json:"content"`
	ScopeID   string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_shared_texts_scope" json:"scopeId"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SharedText) TableName() string {
	return "shared_texts"
}

// NetworkConnection 定义了 network_connections 表的 ORM 模型。
// 仅作运维性登记（某个 IP 最近一次活跃在哪个空间），写入失败不影响主流程。
type NetworkConnection struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	IP         string    `gorm:"type:varchar(45);not null" json:"ip"`
	ScopeID    string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_network_connections_scope" json:"scopeId"`
	LastActive time.Time `gorm:"autoUpdateTime" json:"lastActive"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (NetworkConnection) TableName() string {
	return "network_connections"
}
