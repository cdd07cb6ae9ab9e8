package service

import (
	"context"
	"time"

	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/internal/repository"
	"github.com/suryanavv/BridgeSpace/pkg/events"
	"github.com/suryanavv/BridgeSpace/pkg/log"
	"github.com/suryanavv/BridgeSpace/pkg/storage"
)

// SweepSummary 汇总一次过期清理的结果，只写入运行日志。
type SweepSummary struct {
	Cutoff         time.Time
	FilesDeleted   int
	FileErrors     int
	ParseFailures  int
	OrphansRemoved int
	TextsDeleted   int64
	Duration       time.Duration
}

// SweepService 执行过期清理：删除保留窗口之外的文件与文本。
// 它由外部调度器按固定周期调用，没有调用方等待结果；任何单条记录的
// 失败都不会中止整个清理，连续运行两次是安全的（第二次没有可删项）。
type SweepService struct {
	fileRepo  repository.FileRepository
	textRepo  repository.TextRepository
	blobs     storage.BlobStore
	publisher ChangePublisher
	bucket    string
	location  *time.Location
	retention time.Duration
	now       func() time.Time
}

// NewSweepService 创建一个新的 SweepService 实例。
// 过期判定永远在配置的时区里计算，写入方与清理方共用同一基准。
func NewSweepService(fileRepo repository.FileRepository, textRepo repository.TextRepository,
	blobs storage.BlobStore, publisher ChangePublisher,
	minioCfg config.MinIOConfig, limits config.LimitsConfig, timezone string) (*SweepService, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &SweepService{
		fileRepo:  fileRepo,
		textRepo:  textRepo,
		blobs:     blobs,
		publisher: publisher,
		bucket:    minioCfg.BucketName,
		location:  loc,
		retention: limits.RetentionWindow(),
		now:       time.Now,
	}, nil
}

// Sweep 执行一次完整的清理并返回汇总。
// 顺序：过期文件（对象 → 元数据，逐条容错）→ 过期文本 → 孤儿对象。
func (s *SweepService) Sweep(ctx context.Context) SweepSummary {
	start := time.Now()
	cutoff := s.now().In(s.location).Add(-s.retention)
	summary := SweepSummary{Cutoff: cutoff}

	log.Infof("[Sweep] 开始过期清理，过期阈值: %s", cutoff.Format(time.RFC3339))

	touchedScopes := make(map[string]struct{})

	expired, err := s.fileRepo.FindCreatedBefore(ctx, cutoff)
	if err != nil {
		log.Error("[Sweep] 查询过期文件失败，本轮跳过文件清理", err)
		summary.FileErrors++
	}
	for _, f := range expired {
		objName, pErr := storage.ObjectPathFromRef(s.bucket, f.BlobRef)
		if pErr != nil {
			// 引用解析失败不阻止元数据删除，只记为部分成功
			summary.ParseFailures++
			log.Warnf("[Sweep] 对象引用无法解析, file: %s, ref: %s", f.ID, f.BlobRef)
		} else if rmErr := s.blobs.Remove(ctx, objName); rmErr != nil {
			// 对象删除失败仍然删除元数据；残留对象由孤儿扫描兜底
			log.Warnf("[Sweep] 对象删除失败, object: %s, error: %v", objName, rmErr)
		}

		if dErr := s.fileRepo.Delete(ctx, f.ID, f.ScopeID); dErr != nil {
			summary.FileErrors++
			log.Warnf("[Sweep] 元数据删除失败, file: %s, error: %v", f.ID, dErr)
			continue
		}
		summary.FilesDeleted++
		touchedScopes[f.ScopeID] = struct{}{}
	}

	textsDeleted, tErr := s.textRepo.DeleteUpdatedBefore(ctx, cutoff)
	if tErr != nil {
		log.Error("[Sweep] 删除过期文本失败", tErr)
	}
	summary.TextsDeleted = textsDeleted

	summary.OrphansRemoved = s.sweepOrphans(ctx, cutoff)

	// 尽力通知受影响的空间刷新列表
	for scope := range touchedScopes {
		s.publishDelete(ctx, scope)
	}

	summary.Duration = time.Since(start)
	log.Infow("[Sweep] 清理完成",
		"cutoff", summary.Cutoff.Format(time.RFC3339),
		"filesDeleted", summary.FilesDeleted,
		"fileErrors", summary.FileErrors,
		"parseFailures", summary.ParseFailures,
		"orphansRemoved", summary.OrphansRemoved,
		"textsDeleted", summary.TextsDeleted,
		"duration", summary.Duration.String(),
	)
	return summary
}

// sweepOrphans 回收没有任何元数据行引用、且已超出保留窗口的对象。
// 上传补偿失败或跨存储的时序缝隙会产生这类孤儿对象。
func (s *SweepService) sweepOrphans(ctx context.Context, cutoff time.Time) int {
	blobs, err := s.blobs.List(ctx, storage.RootPrefix)
	if err != nil {
		log.Warnf("[Sweep] 孤儿对象扫描失败: %v", err)
		return 0
	}

	removed := 0
	for _, b := range blobs {
		if !b.LastModified.Before(cutoff) {
			continue
		}
		referenced, rErr := s.fileRepo.ExistsByBlobRef(ctx, b.Path)
		if rErr != nil || referenced {
			continue
		}
		if rmErr := s.blobs.Remove(ctx, b.Path); rmErr != nil {
			log.Warnf("[Sweep] 孤儿对象删除失败, object: %s, error: %v", b.Path, rmErr)
			continue
		}
		removed++
	}
	return removed
}

func (s *SweepService) publishDelete(ctx context.Context, scope string) {
	if s.publisher == nil {
		return
	}
	ev := events.ChangeEvent{
		Scope: scope, Table: events.TableFiles, Action: events.ActionDelete, At: time.Now(),
	}
	if err := s.publisher.PublishChange(ctx, ev); err != nil {
		log.Warnf("[Sweep] 发布删除事件失败: scope=%s, error: %v", scope, err)
	}
}
