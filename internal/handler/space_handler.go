// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suryanavv/BridgeSpace/internal/apperr"
	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/internal/service"
	"github.com/suryanavv/BridgeSpace/pkg/log"
)

// SpaceHandler 负责空间解析与配额常量查询的 API。
type SpaceHandler struct {
	scopeService service.ScopeService
	limits       config.LimitsConfig
}

// NewSpaceHandler 创建一个新的 SpaceHandler 实例。
func NewSpaceHandler(scopeService service.ScopeService, limits config.LimitsConfig) *SpaceHandler {
	return &SpaceHandler{scopeService: scopeService, limits: limits}
}

// ScopeRequest 定义了空间解析 API 的请求体结构。
// privateKey 为空表示网络模式。
type ScopeRequest struct {
	PrivateKey string `json:"privateKey"`
}

// ResolveScope 解析（或返回已缓存的）当前空间标识。
func (h *SpaceHandler) ResolveScope(c *gin.Context) {
	var req ScopeRequest
	_ = c.ShouldBindJSON(&req) // 空请求体等价于网络模式

	scope, err := h.scopeService.Resolve(c.Request.Context(), req.PrivateKey)
	if err != nil {
		if errors.Is(err, apperr.ErrScopeUnavailable) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "私有空间 Key 不能为空"})
			return
		}
		log.Error("ResolveScope: failed to resolve scope", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "空间解析失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "空间解析成功",
		"data":    gin.H{"scope": scope, "mode": scopeMode(req.PrivateKey)},
	})
}

// SwitchScope 显式切换空间：旧空间的订阅与会话先被清理，再解析新空间。
func (h *SpaceHandler) SwitchScope(c *gin.Context) {
	var req ScopeRequest
	_ = c.ShouldBindJSON(&req)

	scope, err := h.scopeService.Switch(c.Request.Context(), req.PrivateKey)
	if err != nil {
		if errors.Is(err, apperr.ErrScopeUnavailable) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "私有空间 Key 不能为空"})
			return
		}
		log.Error("SwitchScope: failed to switch scope", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "空间切换失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "空间切换成功",
		"data":    gin.H{"scope": scope, "mode": scopeMode(req.PrivateKey)},
	})
}

// GetLimits 返回配额常量。前端校验与提示文案都以此为准，避免两处硬编码不一致。
func (h *SpaceHandler) GetLimits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"maxFileSizeBytes": h.limits.MaxFileSizeBytes,
			"maxFilesPerScope": h.limits.MaxFilesPerScope,
			"maxTextLength":    h.limits.MaxTextLength,
			"retentionDays":    h.limits.RetentionDays,
		},
	})
}

func scopeMode(privateKey string) string {
	if strings.TrimSpace(privateKey) != "" {
		return "private"
	}
	return "network"
}
