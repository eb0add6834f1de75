package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"dtfstore.com/pkg/logger"
)

// PanicError 被 recover 的 panic，带上调用栈
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Call 执行 fn，panic 转成 error 返回；给 errgroup 的 worker 用，一个文件出问题不会拖垮整个进程
func Call(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			logger.Error(ctx, "panic recovered",
				zap.Any("panic", r),
				zap.String("stack", stack),
			)
			err = &PanicError{Value: r, Stack: stack}
		}
	}()
	return fn()
}

// Go 安全启动协程
func Go(ctx context.Context, fn func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		_ = Call(ctx, func() error {
			fn()
			return nil
		})
	}()
}
