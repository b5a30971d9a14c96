package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tempmailhub/backend/internal/domain"
)

// writeResult 将渠道信封按原样序列化，HTTP 状态码由成功标志和
// 错误类型推导：成功 200，未知错误 500，其余按调用方给定的失败码。
func writeResult[T any](c *gin.Context, resp domain.ChannelResponse[T], failStatus int) {
	if resp.Success {
		c.JSON(http.StatusOK, resp)
		return
	}

	status := failStatus
	if resp.Error != nil && resp.Error.Type == domain.ErrorTypeUnknown {
		status = http.StatusInternalServerError
	}
	c.JSON(status, resp)
}

// badRequest 请求级校验失败，尚未进入渠道调用，没有调用元数据。
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}
