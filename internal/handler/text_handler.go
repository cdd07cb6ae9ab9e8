package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suryanavv/BridgeSpace/internal/service"
	"github.com/suryanavv/BridgeSpace/pkg/log"
)

// TextHandler 负责共享文本的读写 API。
type TextHandler struct {
	texts *service.TextService
	share service.ShareService
}

// NewTextHandler 创建一个新的 TextHandler 实例。
func NewTextHandler(texts *service.TextService, share service.ShareService) *TextHandler {
	return &TextHandler{texts: texts, share: share}
}

// GetText 返回空间的共享文本。空间内尚无文本时返回空内容。
func (h *TextHandler) GetText(c *gin.Context) {
	scope := c.Query("scope")

	row, err := h.share.GetText(c.Request.Context(), scope)
	if err != nil {
		log.Error("GetText: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取共享文本失败"})
		return
	}

	data := gin.H{"content": "", "updatedAt": nil}
	if row != nil {
		data = gin.H{"content": row.Content, "updatedAt": row.UpdatedAt}
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// PutTextRequest 定义了共享文本写入 API 的请求体结构。
// flush 为 true 表示手动保存：跳过防抖立即落库。
type PutTextRequest struct {
	Scope   string `json:"scope" binding:"required"`
	Content string `json:"content"`
	Flush   bool   `json:"flush"`
}

// PutText 记录一次文本编辑。默认走防抖保存，flush 时立即保存。
func (h *TextHandler) PutText(c *gin.Context) {
	var req PutTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	sess, err := h.texts.Session(c.Request.Context(), req.Scope)
	if err != nil {
		log.Error("PutText: failed to open session", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "打开文本会话失败"})
		return
	}

	sess.SetContent(req.Content)
	if req.Flush {
		if err := sess.Flush(c.Request.Context()); err != nil {
			log.Error("PutText: flush failed", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "保存共享文本失败"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"state": textStateName(sess.State()), "content": sess.Content()},
	})
}

func textStateName(s service.TextState) string {
	switch s {
	case service.TextSaving:
		return "saving"
	case service.TextUnsaved:
		return "unsaved"
	default:
		return "saved"
	}
}
