package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response API 响应的统一格式
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// respSuccess 响应成功，返回数据
func respSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// respSuccessWithMsg 响应成功，返回消息和数据
func respSuccessWithMsg(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Message: msg, Data: data})
}

// respError 响应错误，消息后附加错误信息
func respError(c *gin.Context, statusCode int, msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	c.JSON(statusCode, Response{Success: false, Message: msg})
}

// respErrorWithData 响应错误并附带数据
func respErrorWithData(c *gin.Context, statusCode int, msg string, data any) {
	c.JSON(statusCode, Response{Success: false, Message: msg, Data: data})
}
