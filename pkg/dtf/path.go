package dtf

import (
	"os"
	"path/filepath"
)

// SamePath a、b 是否指向同一个文件：先比清理后的绝对路径，两边都存在时再用 os.SameFile
// （覆盖 ./、符号链接、硬链接）。写输出之前用它挡住"输出就是输入"。
func SamePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 == nil && err2 == nil && aa == bb {
		return true
	}
	if err1 != nil || err2 != nil {
		if filepath.Clean(a) == filepath.Clean(b) {
			return true
		}
	}
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}
