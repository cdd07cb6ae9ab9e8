package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/suryanavv/BridgeSpace/internal/apperr"
	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/internal/model"
	"github.com/suryanavv/BridgeSpace/pkg/events"
	"github.com/suryanavv/BridgeSpace/pkg/log"
)

// sniffLen 是内容类型嗅探读取的最大字节数。
const sniffLen = 3072

// UploadFile 描述一个待上传的文件。
type UploadFile struct {
	Name        string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// ProgressFunc 在每个文件完成后被调用一次。
type ProgressFunc func(completed, total int)

// UploadBatch 是一次上传批次的句柄：进度查询、协作取消、等待完成。
type UploadBatch struct {
	total     int
	cancelled atomic.Bool
	done      chan struct{}

	mu        sync.Mutex
	completed int
	files     []model.SharedFile
	err       error
}

// Cancel 请求取消批次。取消是协作式的：只在文件之间检查，
// 不会中断正在传输的文件；已完成的文件保留，不回滚。
func (b *UploadBatch) Cancel() {
	b.cancelled.Store(true)
}

// Progress 返回已完成的文件数与批次总数。
func (b *UploadBatch) Progress() (completed, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed, b.total
}

// Files 返回批次中已成功写入的文件记录（按提交顺序）。
func (b *UploadBatch) Files() []model.SharedFile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.SharedFile{}, b.files...)
}

// Wait 阻塞到批次结束。全部成功返回 nil；被取消返回 apperr.ErrBatchCancelled；
// 某个文件写入失败返回标明文件名的错误（已成功的文件保留）。
func (b *UploadBatch) Wait() error {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// UploadService 负责把一批文件校验、去重、排队后依次写入空间。
type UploadService interface {
	// Submit 校验整个批次并启动顺序上传，返回批次句柄。
	// 任何校验失败都发生在第一个字节写入之前。
	Submit(ctx context.Context, scopeID string, files []UploadFile, onProgress ProgressFunc) (*UploadBatch, error)
}

type uploadService struct {
	share     ShareService
	publisher ChangePublisher
	limits    config.LimitsConfig
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(share ShareService, publisher ChangePublisher, limits config.LimitsConfig) UploadService {
	return &uploadService{share: share, publisher: publisher, limits: limits}
}

// Submit 按固定顺序校验（单文件大小 → 批内去重 → 空间配额），
// 然后在后台按提交顺序逐个上传，保证展示顺序与选择顺序一致。
func (s *uploadService) Submit(ctx context.Context, scopeID string, files []UploadFile, onProgress ProgressFunc) (*UploadBatch, error) {
	if len(files) == 0 {
		return nil, apperr.ErrEmptyBatch
	}

	// 规则一：任何一个文件超限，整个批次拒绝
	for _, f := range files {
		if f.Size <= 0 {
			return nil, fmt.Errorf("file %q has invalid size %d", f.Name, f.Size)
		}
		if f.Size > s.limits.MaxFileSizeBytes {
			return nil, &apperr.FileTooLargeError{Name: f.Name, Size: f.Size, Limit: s.limits.MaxFileSizeBytes}
		}
	}

	// 规则二：批内按 (文件名, 大小) 去重，保留首次出现的顺序
	unique := dedupByNameAndSize(files)

	// 规则三：空间配额校验，在任何写入之前完成
	existing, err := s.share.CountFiles(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	if int(existing)+len(unique) > s.limits.MaxFilesPerScope {
		return nil, &apperr.QuotaError{
			Limit:     s.limits.MaxFilesPerScope,
			Existing:  int(existing),
			Requested: len(unique),
		}
	}

	batch := &UploadBatch{total: len(unique), done: make(chan struct{})}
	go s.run(ctx, scopeID, unique, batch, onProgress)
	return batch, nil
}

// run 顺序执行批次内的上传。
func (s *uploadService) run(ctx context.Context, scopeID string, files []UploadFile, batch *UploadBatch, onProgress ProgressFunc) {
	defer close(batch.done)

	var failed error
	for _, f := range files {
		// 协作式取消：只在文件之间检查
		if batch.cancelled.Load() {
			failed = apperr.ErrBatchCancelled
			break
		}

		contentType, reader := sniffContentType(f)
		created, err := s.share.InsertFile(ctx, scopeID, f.Name, f.Size, contentType, reader)
		if err != nil {
			// 批次在第一个失败处停止；已成功的文件保留，不自动重试
			failed = err
			break
		}

		batch.mu.Lock()
		batch.completed++
		batch.files = append(batch.files, *created)
		completed := batch.completed
		batch.mu.Unlock()

		if onProgress != nil {
			onProgress(completed, batch.total)
		}
	}

	batch.mu.Lock()
	batch.err = failed
	completed := batch.completed
	batch.mu.Unlock()

	// 只要有至少一个文件成功，就触发恰好一次列表刷新（而不是每个文件一次）
	if completed > 0 {
		s.publishBatchEvent(ctx, scopeID)
	}

	if failed != nil {
		log.Warnf("[Upload] 批次提前结束: scope=%s, 完成 %d/%d, 原因: %v", scopeID, completed, batch.total, failed)
	} else {
		log.Infof("[Upload] 批次完成: scope=%s, 共 %d 个文件", scopeID, batch.total)
	}
}

func (s *uploadService) publishBatchEvent(ctx context.Context, scopeID string) {
	if s.publisher == nil {
		return
	}
	ev := events.ChangeEvent{
		Scope: scopeID, Table: events.TableFiles, Action: events.ActionInsert, At: time.Now(),
	}
	if err := s.publisher.PublishChange(ctx, ev); err != nil {
		log.Warnf("[Upload] 发布批次变更事件失败: scope=%s, error: %v", scopeID, err)
	}
}

// dedupByNameAndSize 以 (文件名, 大小) 为同一性在批内去重，保留首次出现的顺序。
func dedupByNameAndSize(files []UploadFile) []UploadFile {
	seen := make(map[string]struct{}, len(files))
	unique := make([]UploadFile, 0, len(files))
	for _, f := range files {
		key := fmt.Sprintf("%s\x00%d", f.Name, f.Size)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, f)
	}
	return unique
}

// sniffContentType 在调用方未提供内容类型时，从文件头部嗅探。
// 读掉的头部字节会重新拼接回 Reader。
func sniffContentType(f UploadFile) (string, io.Reader) {
	if f.ContentType != "" {
		return f.ContentType, f.Reader
	}
	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f.Reader, head)
	head = head[:n]
	detected := mimetype.Detect(head).String()
	return detected, io.MultiReader(bytes.NewReader(head), f.Reader)
}
