package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Body 统一响应信封。
//
// code 与 HTTP 状态码保持一致，timestamp 为服务端毫秒时间戳。
type Body struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// OK 成功响应。
func OK(c *gin.Context, data interface{}) {
	OKMessage(c, "操作成功", data)
}

// OKMessage 携带自定义消息的成功响应。
func OKMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{
		Code:      http.StatusOK,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Error 失败响应，HTTP 状态码与信封 code 一致。
func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Body{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}
