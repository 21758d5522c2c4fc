package utils

import (
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Recover 捕获 panic 并记录错误日志，必须直接 defer 调用
func Recover(logger zerolog.Logger) {
	if r := recover(); r != nil {
		logger.Error().
			Str("panic", fmt.Sprint(r)).
			Bytes("stack", debug.Stack()).
			Msg("recovered from panic")
	}
}

// RecoverErr 把 panic 转成 error 写入 *errp，用于单个请求的处理函数
func RecoverErr(logger zerolog.Logger, errp *error) {
	if r := recover(); r != nil {
		logger.Error().
			Str("panic", fmt.Sprint(r)).
			Bytes("stack", debug.Stack()).
			Msg("recovered from panic")
		if errp != nil {
			*errp = fmt.Errorf("internal error: %v", r)
		}
	}
}
