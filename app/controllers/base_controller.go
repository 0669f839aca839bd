package controllers

import (
	"net/http"
	"strings"

	"github.com/beego/beego/v2/server/web"

	apperrors "github.com/aihub/msgsearch-go/internal/errors"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// JSONAppError 按错误码映射HTTP状态并输出错误信封
func (c *BaseController) JSONAppError(err error) {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		c.JSON(appErr.HTTPCode, map[string]interface{}{
			"success": false,
			"error":   appErr.Message,
			"code":    string(appErr.Code),
		})
		return
	}
	c.JSONError(http.StatusInternalServerError, "internal server error")
}

// getAuthenticatedUserID 获取认证用户ID
// 从Authorization header中获取user_id（简化实现）
func (c *BaseController) getAuthenticatedUserID() (string, bool) {
	// 1. 首先尝试从Authorization header获取
	authHeader := c.Ctx.Input.Header("Authorization")
	if authHeader != "" {
		// 简化版：假设Authorization header格式为 "Bearer {user_id}"
		// 在生产环境中，这里应该验证JWT token
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
			return parts[1], true
		}
	}

	// 2. 尝试从X-User-Id header获取
	if userID := c.Ctx.Input.Header("X-User-Id"); userID != "" {
		return userID, true
	}

	// 3. 尝试从查询参数获取（用于测试）
	if userID := c.GetString("user_id"); userID != "" {
		return userID, true
	}

	c.JSONError(http.StatusUnauthorized, "未授权访问")
	return "", false
}
