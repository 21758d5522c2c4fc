package utils

import (
	"github.com/rs/zerolog"
)

// SafeGo 启动一个 goroutine 并在内部捕获 panic
func SafeGo(logger zerolog.Logger, fn func()) {
	go func() {
		defer Recover(logger)
		fn()
	}()
}
