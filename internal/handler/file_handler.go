package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suryanavv/BridgeSpace/internal/apperr"
	"github.com/suryanavv/BridgeSpace/internal/service"
	"github.com/suryanavv/BridgeSpace/pkg/log"
)

// FileHandler 负责处理所有与共享文件相关的 API 请求。
type FileHandler struct {
	share  service.ShareService
	upload service.UploadService
}

// NewFileHandler 创建一个新的 FileHandler 实例。
func NewFileHandler(share service.ShareService, upload service.UploadService) *FileHandler {
	return &FileHandler{share: share, upload: upload}
}

// ListFiles 返回空间下的文件列表（按创建时间倒序）。
func (h *FileHandler) ListFiles(c *gin.Context) {
	scope := c.Query("scope")

	files, err := h.share.ListFiles(c.Request.Context(), scope)
	if err != nil {
		log.Error("ListFiles: failed to list files", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取文件列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": files})
}

// UploadFiles 处理一批文件的上传（multipart 表单，字段 scope + files）。
// 整个批次先通过校验（单文件大小、批内去重、空间配额），再按提交顺序逐个写入。
func (h *FileHandler) UploadFiles(c *gin.Context) {
	scope := c.PostForm("scope")
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 scope 参数"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 multipart 表单"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "批次中没有文件"})
		return
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, openErr := fh.Open()
		if openErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "未能读取上传的文件: " + fh.Filename})
			return
		}
		defer f.Close()
		files = append(files, service.UploadFile{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Reader:      f,
		})
	}

	batch, err := h.upload.Submit(c.Request.Context(), scope, files, nil)
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}

	// 上传在请求期间完成；句柄的取消/进度能力供内部调用方使用
	waitErr := batch.Wait()
	completed, total := batch.Progress()
	if waitErr != nil {
		log.Error("UploadFiles: batch stopped early", waitErr)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": fmt.Sprintf("上传中断（完成 %d/%d）: %v", completed, total, waitErr),
			"data":    gin.H{"uploaded": batch.Files(), "completed": completed, "total": total},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "上传完成",
		"data":    gin.H{"uploaded": batch.Files(), "completed": completed, "total": total},
	})
}

// writeSubmitError 把批次校验错误映射为带精确提示的响应。
func (h *FileHandler) writeSubmitError(c *gin.Context, err error) {
	var quotaErr *apperr.QuotaError
	var sizeErr *apperr.FileTooLargeError
	switch {
	case errors.As(err, &sizeErr):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":    http.StatusRequestEntityTooLarge,
			"message": fmt.Sprintf("文件 %s 超出单文件大小限制", sizeErr.Name),
		})
	case errors.As(err, &quotaErr):
		c.JSON(http.StatusConflict, gin.H{
			"code":    http.StatusConflict,
			"message": fmt.Sprintf("空间文件数量已达上限，还可接收 %d 个文件", quotaErr.Remaining()),
			"data":    gin.H{"remaining": quotaErr.Remaining()},
		})
	case errors.Is(err, apperr.ErrEmptyBatch):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "批次中没有文件"})
	default:
		log.Error("UploadFiles: failed to submit batch", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "上传提交失败"})
	}
}

// DeleteFile 删除单个文件。对象侧删除失败不影响本接口的成功返回。
func (h *FileHandler) DeleteFile(c *gin.Context) {
	scope := c.Query("scope")
	id := c.Param("id")
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 scope 参数"})
		return
	}

	if err := h.share.DeleteFile(c.Request.Context(), scope, id); err != nil {
		if service.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文件不存在"})
			return
		}
		log.Error("DeleteFile: failed to delete file", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除文件失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "文件已删除"})
}

// DeleteAllFiles 删除空间下的全部文件。
func (h *FileHandler) DeleteAllFiles(c *gin.Context) {
	scope := c.Query("scope")
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 scope 参数"})
		return
	}

	if err := h.share.DeleteAllFiles(c.Request.Context(), scope); err != nil {
		log.Error("DeleteAllFiles: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清空文件失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "空间内的文件已清空"})
}

// GenerateDownloadURL 生成文件的临时下载链接。
func (h *FileHandler) GenerateDownloadURL(c *gin.Context) {
	scope := c.Query("scope")
	id := c.Param("id")
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 scope 参数"})
		return
	}

	info, err := h.share.DownloadURL(c.Request.Context(), scope, id)
	if err != nil {
		if service.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文件不存在"})
			return
		}
		log.Error("GenerateDownloadURL: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "生成下载链接失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": info})
}
