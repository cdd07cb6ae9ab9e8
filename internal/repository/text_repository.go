package repository

import (
	"context"
	"time"

	"github.com/suryanavv/BridgeSpace/internal/model"
	"gorm.io/gorm"
)

// TextRepository 接口定义了共享文本的持久化操作。
// 查询按 updated_at 倒序返回，使"最新一行"始终排在最前面。
type TextRepository interface {
	FindByScope(ctx context.Context, scopeID string) ([]model.SharedText, error)
	Create(ctx context.Context, text *model.SharedText) error
	UpdateContent(ctx context.Context, id string, content string) error
	DeleteByID(ctx context.Context, id string) error
	DeleteUpdatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// textRepository 是 TextRepository 的 GORM 实现。
type textRepository struct {
	db *gorm.DB
}

// NewTextRepository 创建一个新的 TextRepository 实例。
func NewTextRepository(db *gorm.DB) TextRepository {
	return &textRepository{db: db}
}

// FindByScope 返回某个空间下的全部文本行，按更新时间倒序。
// 正常情况下至多一行；并发首写竞态可能短暂出现多行，由上层写入时收敛。
func (r *textRepository) FindByScope(ctx context.Context, scopeID string) ([]model.SharedText, error) {
	texts := make([]model.SharedText, 0)
	err := r.db.WithContext(ctx).Where("scope_id = ?", scopeID).
		Order("updated_at desc").Find(&texts).Error
	return texts, err
}

// Create 插入一行共享文本。撞到唯一索引时返回底层错误，由调用方重查。
func (r *textRepository) Create(ctx context.Context, text *model.SharedText) error {
	return r.db.WithContext(ctx).Create(text).Error
}

// UpdateContent 更新指定行的内容，updated_at 由 GORM 自动推进。
func (r *textRepository) UpdateContent(ctx context.Context, id string, content string) error {
	return r.db.WithContext(ctx).Model(&model.SharedText{}).
		Where("id = ?", id).Update("content", content).Error
}

// DeleteByID 删除指定的文本行。
func (r *textRepository) DeleteByID(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.SharedText{}).Error
}

// DeleteUpdatedBefore 删除所有更新时间早于 cutoff 的文本行，返回删除的行数。
func (r *textRepository) DeleteUpdatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&model.SharedText{})
	return res.RowsAffected, res.Error
}
