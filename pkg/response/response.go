package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeNotFound    = 404
	CodeServerError = 500
)

// 业务错误码
const (
	CodeInsufficientFunds = 1001 // 可恢复：调用方应降级为零质押
	CodeDuplicateBond     = 1002 // 幂等冲突：重试方可视作成功
	CodeAlreadySettled    = 1003 // 幂等冲突：重试方可视作成功
	CodeNotFoundOnChain   = 1004 // 终态：链上不存在
	CodeExpired           = 1005 // 终态：已过期
	CodeOnChainFailure    = 1006 // 瞬态：可安全重试
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
