// Package apperr 定义了应用级的错误分类。
// 校验类错误（配额、空 Key）在任何 I/O 之前返回给调用方；
// 存储写入失败携带具体文件信息；部分失败（对象侧删除失败）只记日志不上抛。
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrScopeUnavailable 表示无法解析出有效的空间标识。
	ErrScopeUnavailable = errors.New("scope unavailable")

	// ErrQuotaExceeded 表示空间文件数量已达上限。
	ErrQuotaExceeded = errors.New("file quota exceeded")

	// ErrFileTooLarge 表示批次中存在超出单文件大小限制的文件。
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrStorageWrite 表示对象或元数据写入失败。
	ErrStorageWrite = errors.New("storage write failed")

	// ErrBatchCancelled 表示上传批次被调用方取消。
	ErrBatchCancelled = errors.New("upload batch cancelled")

	// ErrEmptyBatch 表示提交了不含任何文件的上传批次。
	ErrEmptyBatch = errors.New("empty upload batch")
)

// QuotaError 描述一次文件数量配额校验失败。
// Remaining 告知调用方当前还能接收多少个文件。
type QuotaError struct {
	Limit     int
	Existing  int
	Requested int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("file quota exceeded: limit %d, existing %d, requested %d (room for %d more)",
		e.Limit, e.Existing, e.Requested, e.Remaining())
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// Remaining 返回该空间还能接收的文件数。
func (e *QuotaError) Remaining() int {
	if r := e.Limit - e.Existing; r > 0 {
		return r
	}
	return 0
}

// FileTooLargeError 描述一个超限文件。
type FileTooLargeError struct {
	Name  string
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file %q is too large: %d bytes, limit %d", e.Name, e.Size, e.Limit)
}

func (e *FileTooLargeError) Unwrap() error { return ErrFileTooLarge }

// WriteError 描述一次失败的文件写入，标明是哪个文件失败。
type WriteError struct {
	FileName string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write of %q failed: %v", e.FileName, e.Err)
}

func (e *WriteError) Unwrap() error { return ErrStorageWrite }
