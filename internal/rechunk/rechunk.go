package rechunk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/xerr"
)

// Namer 第 i 个输出文件的路径
type Namer func(i int) string

// DefaultNamer btc.dtf -> btc-0.dtf, btc-1.dtf ...
func DefaultNamer(in string) Namer {
	ext := filepath.Ext(in)
	if ext == "" {
		ext = ".dtf"
	}
	stem := strings.TrimSuffix(in, filepath.Ext(in))
	return func(i int) string {
		return fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}

// Split 按 batchSize 条记录切分文件
// 除最后一个外每个输出正好 batchSize 条；空文件不产生输出
// 元数据由每个输出自己的记录重新计算，不继承父文件的边界
func Split(in string, batchSize int, name Namer, o dtf.Options) ([]string, error) {
	if batchSize <= 0 {
		return nil, xerr.Newf(xerr.InvalidArgument, "split batch size must be positive, got %d", batchSize)
	}
	r, err := dtf.Open(in)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var (
		outs []string
		w    *dtf.Writer
	)
	fail := func(err error) ([]string, error) {
		if w != nil {
			_ = w.Abort()
		}
		for _, p := range outs {
			_ = os.Remove(p)
		}
		return nil, err
	}

	it := r.IterAll()
	symbol := r.Metadata().Symbol
	for {
		u, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}
		if w == nil {
			p := name(len(outs))
			if dtf.SamePath(p, in) {
				return fail(xerr.Newf(xerr.InvalidArgument, "split output %s overwrites input", p))
			}
			if w, err = dtf.Create(p, symbol, o); err != nil {
				return fail(err)
			}
		}
		if err := w.Append(u); err != nil {
			return fail(err)
		}
		if w.Count() == uint64(batchSize) {
			if err := w.Close(); err != nil {
				return fail(err)
			}
			outs = append(outs, w.Path())
			w = nil
		}
	}
	if w != nil {
		if err := w.Close(); err != nil {
			return fail(err)
		}
		outs = append(outs, w.Path())
	}
	return outs, nil
}

// Concat 把多个同 symbol 文件按时间戳归并成一个
func Concat(out string, inputs []string, o dtf.Options) (dtf.Metadata, error) {
	if len(inputs) == 0 {
		return dtf.Metadata{}, xerr.New(xerr.InvalidArgument, "concat needs at least one input")
	}

	readers := make([]*dtf.Reader, 0, len(inputs))
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()

	for _, p := range inputs {
		if dtf.SamePath(p, out) {
			return dtf.Metadata{}, xerr.Newf(xerr.InvalidArgument, "concat output %s is also an input", out)
		}
		r, err := dtf.Open(p)
		if err != nil {
			return dtf.Metadata{}, err
		}
		readers = append(readers, r)
	}

	symbol := readers[0].Metadata().Symbol
	streams := make([]dtf.Stream, len(readers))
	for i, r := range readers {
		if s := r.Metadata().Symbol; s != symbol {
			return dtf.Metadata{}, &xerr.CodeError{
				Code:   xerr.SymbolMismatch,
				Msg:    fmt.Sprintf("%s has %q, %s has %q", inputs[0], symbol, inputs[i], s),
				Path:   inputs[i],
				Offset: -1,
			}
		}
		streams[i] = r.IterAll()
	}

	return dtf.WriteFile(out, symbol, Merge(streams...), o)
}
