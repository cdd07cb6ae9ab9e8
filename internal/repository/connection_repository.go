package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/suryanavv/BridgeSpace/internal/model"
	"gorm.io/gorm"
)

// connActiveTTL 是连接活跃标记在 Redis 中的有效期。
const connActiveTTL = 24 * time.Hour

// ConnectionRepository 接口定义了网络连接登记表的持久化操作。
// 登记完全是尽力而为的运维信息，调用方不会因为这里的失败而中断。
type ConnectionRepository interface {
	Touch(ctx context.Context, ip, scopeID string) error
}

// connectionRepository 是 ConnectionRepository 的 GORM+Redis 实现。
type connectionRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewConnectionRepository 创建一个新的 ConnectionRepository 实例。
func NewConnectionRepository(db *gorm.DB, redisClient *redis.Client) ConnectionRepository {
	return &connectionRepository{db: db, redisClient: redisClient}
}

// Touch 登记（或刷新）某个空间的连接记录：先查后写，存在则更新 IP 与活跃时间。
func (r *connectionRepository) Touch(ctx context.Context, ip, scopeID string) error {
	var conn model.NetworkConnection
	err := r.db.WithContext(ctx).Where("scope_id = ?", scopeID).First(&conn).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = r.db.WithContext(ctx).Create(&model.NetworkConnection{
			IP:         ip,
			ScopeID:    scopeID,
			LastActive: time.Now(),
		}).Error
	case err == nil:
		err = r.db.WithContext(ctx).Model(&conn).
			Updates(map[string]interface{}{"ip": ip, "last_active": time.Now()}).Error
	}
	if err != nil {
		return err
	}

	if r.redisClient != nil {
		_ = r.redisClient.Set(ctx, "space:conn:"+scopeID, ip, connActiveTTL).Err()
	}
	return nil
}
