// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/suryanavv/BridgeSpace/internal/model"
	"gorm.io/gorm"
)

// fileCountTTL 是空间文件计数缓存的有效期。
const fileCountTTL = 10 * time.Minute

// FileRepository 接口定义了共享文件元数据的持久化操作。
type FileRepository interface {
	Create(ctx context.Context, file *model.SharedFile) error
	FindByID(ctx context.Context, id string) (*model.SharedFile, error)
	// FindByScope 返回某个空间下的文件，按创建时间倒序；limit <= 0 表示不限制。
	FindByScope(ctx context.Context, scopeID string, limit int) ([]model.SharedFile, error)
	CountByScope(ctx context.Context, scopeID string) (int64, error)
	Delete(ctx context.Context, id string, scopeID string) error
	DeleteByScope(ctx context.Context, scopeID string) (int64, error)
	FindCreatedBefore(ctx context.Context, cutoff time.Time) ([]model.SharedFile, error)
	ExistsByBlobRef(ctx context.Context, blobRef string) (bool, error)
}

// fileRepository 是 FileRepository 的 GORM+Redis 实现。
// Redis 只缓存每个空间的文件计数（配额校验的快路径），任何写入都会使其失效。
type fileRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewFileRepository 创建一个新的 FileRepository 实例。
func NewFileRepository(db *gorm.DB, redisClient *redis.Client) FileRepository {
	return &fileRepository{db: db, redisClient: redisClient}
}

// countKey 生成空间文件计数的缓存 key。
func (r *fileRepository) countKey(scopeID string) string {
	return "space:filecount:" + scopeID
}

// invalidateCount 删除计数缓存。缓存失效失败不影响写入本身。
func (r *fileRepository) invalidateCount(ctx context.Context, scopeID string) {
	if r.redisClient != nil {
		_ = r.redisClient.Del(ctx, r.countKey(scopeID)).Err()
	}
}

// Create 在数据库中创建一条共享文件记录。
func (r *fileRepository) Create(ctx context.Context, file *model.SharedFile) error {
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return err
	}
	r.invalidateCount(ctx, file.ScopeID)
	return nil
}

// FindByID 根据文件 ID 检索一条记录。
func (r *fileRepository) FindByID(ctx context.Context, id string) (*model.SharedFile, error) {
	var file model.SharedFile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// FindByScope 返回某个空间下的文件，按创建时间倒序。
func (r *fileRepository) FindByScope(ctx context.Context, scopeID string, limit int) ([]model.SharedFile, error) {
	files := make([]model.SharedFile, 0)
	q := r.db.WithContext(ctx).Where("scope_id = ?", scopeID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&files).Error
	return files, err
}

// CountByScope 返回某个空间下的文件数量，优先命中 Redis 缓存。
func (r *fileRepository) CountByScope(ctx context.Context, scopeID string) (int64, error) {
	if r.redisClient != nil {
		if n, err := r.redisClient.Get(ctx, r.countKey(scopeID)).Int64(); err == nil {
			return n, nil
		}
		// redis.Nil 与真实错误都回退到数据库
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.SharedFile{}).
		Where("scope_id = ?", scopeID).Count(&count).Error; err != nil {
		return 0, err
	}

	if r.redisClient != nil {
		_ = r.redisClient.Set(ctx, r.countKey(scopeID), count, fileCountTTL).Err()
	}
	return count, nil
}

// Delete 删除一条文件记录。记录不存在时视为成功（删除是幂等的）。
func (r *fileRepository) Delete(ctx context.Context, id string, scopeID string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.SharedFile{}).Error; err != nil {
		return err
	}
	r.invalidateCount(ctx, scopeID)
	return nil
}

// DeleteByScope 按空间谓词批量删除文件记录，返回删除的行数。
func (r *fileRepository) DeleteByScope(ctx context.Context, scopeID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("scope_id = ?", scopeID).Delete(&model.SharedFile{})
	if res.Error != nil {
		return 0, res.Error
	}
	r.invalidateCount(ctx, scopeID)
	return res.RowsAffected, nil
}

// FindCreatedBefore 返回所有创建时间早于 cutoff 的文件记录，供过期清理使用。
func (r *fileRepository) FindCreatedBefore(ctx context.Context, cutoff time.Time) ([]model.SharedFile, error) {
	files := make([]model.SharedFile, 0)
	err := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Find(&files).Error
	return files, err
}

// ExistsByBlobRef 判断某个对象引用是否仍被元数据行引用，供孤儿对象扫描使用。
func (r *fileRepository) ExistsByBlobRef(ctx context.Context, blobRef string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.SharedFile{}).
		Where("blob_ref = ?", blobRef).Count(&count).Error
	return count > 0, err
}
