// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suryanavv/BridgeSpace/internal/apperr"
	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/internal/model"
	"github.com/suryanavv/BridgeSpace/internal/repository"
	"github.com/suryanavv/BridgeSpace/pkg/events"
	"github.com/suryanavv/BridgeSpace/pkg/log"
	"github.com/suryanavv/BridgeSpace/pkg/storage"
	"gorm.io/gorm"
)

// downloadURLExpiry 是下载链接的有效期。
const downloadURLExpiry = time.Hour

// putAttempts 是对象写入的最大尝试次数（对象路径固定，重试是幂等的）。
const putAttempts = 3

// ChangePublisher 将变更事件写入变更事件流。
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev events.ChangeEvent) error
}

// DownloadInfoDTO 封装了文件下载链接所需的信息。
type DownloadInfoDTO struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	FileSize    int64  `json:"fileSize"`
}

// ShareService 是两个存储系统（元数据库与对象存储）之上的统一网关。
// 所有操作都以空间 ID 为边界；两个存储之间没有跨系统事务，
// 多步操作的顺序设计保证中途失败只会留下可恢复的状态。
type ShareService interface {
	ListFiles(ctx context.Context, scopeID string) ([]model.SharedFile, error)
	CountFiles(ctx context.Context, scopeID string) (int64, error)
	GetFile(ctx context.Context, id string) (*model.SharedFile, error)
	InsertFile(ctx context.Context, scopeID, name string, size int64, contentType string, r io.Reader) (*model.SharedFile, error)
	DeleteFile(ctx context.Context, scopeID, id string) error
	DeleteAllFiles(ctx context.Context, scopeID string) error
	DownloadURL(ctx context.Context, scopeID, id string) (*DownloadInfoDTO, error)
	GetText(ctx context.Context, scopeID string) (*model.SharedText, error)
	UpsertText(ctx context.Context, scopeID, content string) (*model.SharedText, error)
}

type shareService struct {
	fileRepo  repository.FileRepository
	textRepo  repository.TextRepository
	blobs     storage.BlobStore
	publisher ChangePublisher
	minioCfg  config.MinIOConfig
	limits    config.LimitsConfig
}

// NewShareService 创建一个新的 ShareService 实例。publisher 可以为 nil（清理任务、测试）。
func NewShareService(fileRepo repository.FileRepository, textRepo repository.TextRepository,
	blobs storage.BlobStore, publisher ChangePublisher,
	minioCfg config.MinIOConfig, limits config.LimitsConfig) ShareService {
	return &shareService{
		fileRepo:  fileRepo,
		textRepo:  textRepo,
		blobs:     blobs,
		publisher: publisher,
		minioCfg:  minioCfg,
		limits:    limits,
	}
}

// ListFiles 返回空间下的文件列表，按创建时间倒序。
// 空间未解析（空字符串）时返回空列表而不是错误。
func (s *shareService) ListFiles(ctx context.Context, scopeID string) ([]model.SharedFile, error) {
	if strings.TrimSpace(scopeID) == "" {
		return []model.SharedFile{}, nil
	}
	return s.fileRepo.FindByScope(ctx, scopeID, s.limits.ListLimit)
}

// CountFiles 返回空间下的文件数量。
func (s *shareService) CountFiles(ctx context.Context, scopeID string) (int64, error) {
	return s.fileRepo.CountByScope(ctx, scopeID)
}

// GetFile 根据 ID 返回一条文件记录。
func (s *shareService) GetFile(ctx context.Context, id string) (*model.SharedFile, error) {
	return s.fileRepo.FindByID(ctx, id)
}

// InsertFile 写入一个共享文件：先写对象，后写元数据行。
// 元数据写入失败时删除刚写入的对象作为补偿，绝不留下被元数据引用的悬空对象；
// 反向的孤儿（对象在、元数据不在）由过期清理兜底。
func (s *shareService) InsertFile(ctx context.Context, scopeID, name string, size int64, contentType string, r io.Reader) (*model.SharedFile, error) {
	if size <= 0 {
		return nil, &apperr.WriteError{FileName: name, Err: fmt.Errorf("invalid size %d", size)}
	}
	name = SanitizeDisplayName(name)

	id := uuid.NewString()
	objectName := storage.ObjectName(scopeID, id, name)

	var ref string
	var err error
	for attempt := 1; attempt <= putAttempts; attempt++ {
		ref, err = s.blobs.Put(ctx, objectName, r, size, contentType)
		if err == nil {
			break
		}
		// Reader 可能已被部分消费，只有支持 Seek 的源才能安全重试
		seeker, ok := r.(io.Seeker)
		if !ok || attempt == putAttempts {
			break
		}
		if _, sErr := seeker.Seek(0, io.SeekStart); sErr != nil {
			break
		}
		log.Warnf("[InsertFile] 对象写入失败，准备第 %d 次重试: %v", attempt+1, err)
	}
	if err != nil {
		return nil, &apperr.WriteError{FileName: name, Err: err}
	}

	file := &model.SharedFile{
		ID:        id,
		Name:      name,
		Size:      size,
		MimeType:  contentType,
		BlobRef:   ref,
		ScopeID:   scopeID,
		CreatedAt: time.Now(),
	}
	if err := s.fileRepo.Create(ctx, file); err != nil {
		// 补偿动作：回收已写入的对象
		if rmErr := s.blobs.Remove(ctx, objectName); rmErr != nil {
			log.Warnf("[InsertFile] 元数据写入失败后的对象回收也失败了, object: %s, error: %v", objectName, rmErr)
		}
		return nil, &apperr.WriteError{FileName: name, Err: err}
	}

	return file, nil
}

// DeleteFile 删除一个共享文件。
// 先删元数据行（列表立即不再返回该文件），再尽力删除对象；
// 对象侧删除失败只记警告，调用方看到的删除仍然成功。
func (s *shareService) DeleteFile(ctx context.Context, scopeID, id string) error {
	file, err := s.fileRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if file.ScopeID != scopeID {
		return fmt.Errorf("file %s does not belong to scope %s", id, scopeID)
	}

	if err := s.fileRepo.Delete(ctx, id, scopeID); err != nil {
		return err
	}

	s.removeBlobByRef(ctx, file.BlobRef)
	s.publish(ctx, events.ChangeEvent{
		Scope: scopeID, Table: events.TableFiles, Action: events.ActionDelete, ItemID: id, At: time.Now(),
	})
	return nil
}

// DeleteAllFiles 删除空间下的全部文件：逐个尽力删除对象，元数据按空间谓词一次性删除。
func (s *shareService) DeleteAllFiles(ctx context.Context, scopeID string) error {
	files, err := s.fileRepo.FindByScope(ctx, scopeID, 0)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	var objectNames []string
	for _, f := range files {
		objName, pErr := storage.ObjectPathFromRef(s.minioCfg.BucketName, f.BlobRef)
		if pErr != nil {
			log.Warnf("[DeleteAllFiles] 对象引用无法解析，跳过对象侧删除, file: %s, ref: %s", f.ID, f.BlobRef)
			continue
		}
		objectNames = append(objectNames, objName)
	}
	if failed := s.blobs.RemoveMany(ctx, objectNames); len(failed) > 0 {
		log.Warnf("[DeleteAllFiles] %d 个对象删除失败（元数据仍会删除）: %v", len(failed), failed)
	}

	deleted, err := s.fileRepo.DeleteByScope(ctx, scopeID)
	if err != nil {
		return err
	}

	log.Infof("[DeleteAllFiles] 空间 %s 下已删除 %d 条文件记录", scopeID, deleted)
	s.publish(ctx, events.ChangeEvent{
		Scope: scopeID, Table: events.TableFiles, Action: events.ActionDelete, At: time.Now(),
	})
	return nil
}

// DownloadURL 生成一个文件的临时下载链接。
// 对象引用解析失败或对象缺失时返回错误而不是崩溃（孤儿元数据行的优雅降级）。
func (s *shareService) DownloadURL(ctx context.Context, scopeID, id string) (*DownloadInfoDTO, error) {
	file, err := s.fileRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if file.ScopeID != scopeID {
		return nil, fmt.Errorf("file %s does not belong to scope %s", id, scopeID)
	}

	objName, err := storage.ObjectPathFromRef(s.minioCfg.BucketName, file.BlobRef)
	if err != nil {
		return nil, fmt.Errorf("file content unavailable: %w", err)
	}

	downloadURL, err := s.blobs.PresignedGetURL(ctx, objName, downloadURLExpiry)
	if err != nil {
		return nil, err
	}
	return &DownloadInfoDTO{
		FileName:    file.Name,
		DownloadURL: downloadURL,
		FileSize:    file.Size,
	}, nil
}

// GetText 返回空间的共享文本行，不存在时返回 nil。
func (s *shareService) GetText(ctx context.Context, scopeID string) (*model.SharedText, error) {
	if strings.TrimSpace(scopeID) == "" {
		return nil, nil
	}
	rows, err := s.textRepo.FindByScope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpsertText 以"先查后写"的方式维护空间内唯一的文本行：
// 有则更新最新一行，无则插入。并发首写撞到唯一索引时重查一次改走更新；
// 历史竞态留下的重复行在这里顺手收敛掉。
func (s *shareService) UpsertText(ctx context.Context, scopeID, content string) (*model.SharedText, error) {
	rows, err := s.textRepo.FindByScope(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	var row *model.SharedText
	if len(rows) == 0 {
		created := &model.SharedText{
			ID:        uuid.NewString(),
			Content:   content,
			ScopeID:   scopeID,
			UpdatedAt: time.Now(),
		}
		if cErr := s.textRepo.Create(ctx, created); cErr != nil {
			// 并发首写：另一端先插入成功了，重查后改走更新
			again, aErr := s.textRepo.FindByScope(ctx, scopeID)
			if aErr != nil || len(again) == 0 {
				return nil, cErr
			}
			rows = again
		} else {
			row = created
		}
	}

	if row == nil {
		latest := rows[0]
		if uErr := s.textRepo.UpdateContent(ctx, latest.ID, content); uErr != nil {
			return nil, uErr
		}
		latest.Content = content
		latest.UpdatedAt = time.Now()
		row = &latest

		for _, extra := range rows[1:] {
			if dErr := s.textRepo.DeleteByID(ctx, extra.ID); dErr != nil {
				log.Warnf("[UpsertText] 收敛重复文本行失败, id: %s, error: %v", extra.ID, dErr)
			}
		}
	}

	s.publish(ctx, events.ChangeEvent{
		Scope: scopeID, Table: events.TableTexts, Action: events.ActionUpdate, ItemID: row.ID, At: time.Now(),
	})
	return row, nil
}

// removeBlobByRef 尽力删除引用指向的对象；解析失败或删除失败都只记警告。
func (s *shareService) removeBlobByRef(ctx context.Context, ref string) {
	objName, err := storage.ObjectPathFromRef(s.minioCfg.BucketName, ref)
	if err != nil {
		log.Warnf("[DeleteFile] 对象引用无法解析，元数据已删除但对象可能残留, ref: %s", ref)
		return
	}
	if err := s.blobs.Remove(ctx, objName); err != nil {
		log.Warnf("[DeleteFile] 对象删除失败（将由过期清理兜底）, object: %s, error: %v", objName, err)
	}
}

// publish 尽力发布变更事件，失败只记警告。
func (s *shareService) publish(ctx context.Context, ev events.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, ev); err != nil {
		log.Warnf("[ChangeFeed] 发布变更事件失败: scope=%s, table=%s, error: %v", ev.Scope, ev.Table, err)
	}
}

// SanitizeDisplayName 将用户提供的文件名规整为安全的展示名：
// 去掉路径部分与控制字符，限制长度，空结果回退为 "unnamed"。
func SanitizeDisplayName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	name = strings.TrimSpace(b.String())
	if name == "" || name == "." || name == "/" {
		return "unnamed"
	}

	if len(name) > 255 {
		runes := []rune(name)
		for len(string(runes)) > 255 {
			runes = runes[:len(runes)-1]
		}
		name = string(runes)
	}
	return name
}

// IsNotFound 判断一个错误是否为"记录不存在"。
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
