// Package httputils provides HTTP utility functions.
package httputils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/ragway/pkg/errors"
)

// Response 统一响应体。错误响应携带可重试标记，由调用方决定是否重新提交。
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Retryable *bool       `json:"retryable,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// WriteResponse writes the response to the client.
// It handles both success and error cases, ensuring consistent response format.
func WriteResponse(c *gin.Context, err error, data interface{}) {
	if err != nil {
		errno := errors.FromError(err)
		retryable := errors.Retryable(errno)
		c.JSON(errno.HTTPStatus(), Response{
			Code:      errno.Code,
			Message:   errno.Message("en"),
			Retryable: &retryable,
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}
