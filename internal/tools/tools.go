package tools

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"dtfstore.com/pkg/xerr"
)

// Runner 各子命令的实现；只写 io.Writer，不碰 os.Stdout
type Runner struct {
	cfg Config
}

func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

func (r *Runner) Config() Config { return r.cfg }

// 退出码
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitUsage          = 2
	ExitCorruptFormat  = 3
	ExitNotFound       = 4
	ExitSymbolMismatch = 5
	ExitEmptyInput     = 6
	ExitUnrepairable   = 70
)

func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch xerr.CodeOf(err) {
	case xerr.InvalidArgument:
		return ExitUsage
	case xerr.CorruptFormat:
		return ExitCorruptFormat
	case xerr.NotFound:
		return ExitNotFound
	case xerr.SymbolMismatch:
		return ExitSymbolMismatch
	case xerr.EmptyInput:
		return ExitEmptyInput
	case xerr.Unrepairable:
		return ExitUnrepairable
	}
	return ExitFailure
}

// tempPath 和目标同目录，保证 rename 是原子的
func tempPath(out string) string {
	return filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+"."+uuid.NewString()+".tmp")
}

// commit 成功则把临时文件改名为 out，失败则删掉临时文件
func commit(tmp, out string, err error) error {
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, out); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
