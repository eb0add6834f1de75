package xerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code 错误分类，上层(工具/CLI)按它区分退出码
type Code int

const (
	CorruptFormat   Code = iota + 1 // 文件结构损坏，只能走 repair
	NotFound                        // 路径不存在或不是 DTF 文件
	SymbolMismatch                  // concat 前置条件不满足
	Unrepairable                    // 内部不变量被破坏，不应出现
	EmptyInput                      // 单条记录查询遇到空文件
	InvalidArgument                 // 参数错误
)

// 哨兵错误：只带 Code，errors.Is 按 Code 比较
var (
	ErrCorruptFormat   = &CodeError{Code: CorruptFormat}
	ErrNotFound        = &CodeError{Code: NotFound}
	ErrSymbolMismatch  = &CodeError{Code: SymbolMismatch}
	ErrUnrepairable    = &CodeError{Code: Unrepairable}
	ErrEmptyInput      = &CodeError{Code: EmptyInput}
	ErrInvalidArgument = &CodeError{Code: InvalidArgument}
)

// CodeError 带文件路径和字节偏移的错误
// Offset < 0 表示没有偏移信息
type CodeError struct {
	Code   Code   `json:"code"`
	Msg    string `json:"msg"`
	Path   string `json:"path,omitempty"`
	Offset int64  `json:"offset"`
	Err    error  `json:"-"`
}

func (e *CodeError) Error() string {
	var b strings.Builder
	b.WriteString("dtf: ")
	b.WriteString(MapErrMsg(e.Code))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path=%s", e.Path)
		if e.Offset >= 0 {
			fmt.Fprintf(&b, " offset=%d", e.Offset)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CodeError) Unwrap() error { return e.Err }

// Is 只比较 Code，这样 errors.Is(err, ErrCorruptFormat) 能命中任意带上下文的同类错误
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, msg string) error {
	return &CodeError{Code: code, Msg: msg, Offset: -1}
}

func Newf(code Code, format string, args ...any) error {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...), Offset: -1}
}

// At 构造带路径/偏移的错误，codec 层统一用它
func At(code Code, path string, offset int64, msg string) error {
	return &CodeError{Code: code, Msg: msg, Path: path, Offset: offset}
}

// Wrap 保留底层错误（比如 os 错误）
func Wrap(code Code, path string, err error) error {
	return &CodeError{Code: code, Path: path, Offset: -1, Err: err}
}

// WithPath 给已有 CodeError 补上路径，非 CodeError 原样返回
func WithPath(err error, path string) error {
	var ce *CodeError
	if !errors.As(err, &ce) || ce.Path != "" {
		return err
	}
	cp := *ce
	cp.Path = path
	return &cp
}

// CodeOf 取错误码，非 CodeError 返回 0
func CodeOf(err error) Code {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func MapErrMsg(code Code) string {
	switch code {
	case CorruptFormat:
		return "corrupt format"
	case NotFound:
		return "not found"
	case SymbolMismatch:
		return "symbol mismatch"
	case Unrepairable:
		return "unrepairable"
	case EmptyInput:
		return "empty input"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}
