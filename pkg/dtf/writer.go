package dtf

import (
	"bufio"
	"errors"
	"io"
	"os"
)

const defaultFilePerm = 0o644

// Writer 流式写 DTF 文件：内存里最多一个 chunk
// Close 之前文件 header 是占位内容（index 偏移为 0），读端会拒绝，
// 所以写一半失败的文件不会被当成合法文件。
type Writer struct {
	f    *os.File
	bw   *bufio.Writer
	path string
	b    *builder
	hs   int64

	done bool
	meta Metadata
}

// Create 创建（截断）path 并写入占位 header
func Create(path, symbol string, opts Options) (*Writer, error) {
	if err := validSymbol(symbol); err != nil {
		return nil, err
	}
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = 1 << 20 // 1M
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, defaultFilePerm)
	if err != nil {
		return nil, err
	}
	hs := headerSize(symbol)
	bw := bufio.NewWriterSize(f, bufSize)

	// 占位 header，Close 时回填
	placeholder := encodeHeader(fileHeader{meta: Metadata{Symbol: symbol, Version: Version}})
	if _, err := bw.Write(placeholder); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		f:    f,
		bw:   bw,
		path: path,
		b:    newBuilder(bw, symbol, hs, opts.batchSize()),
		hs:   hs,
	}, nil
}

func (w *Writer) Path() string { return w.path }

// Append 追加一条记录，凑满一个 batch 就落一个 chunk
func (w *Writer) Append(u Update) error {
	if w.done {
		return os.ErrClosed
	}
	return w.b.add(u)
}

// AppendStream 把整个流写进来，遇到 io.EOF 正常返回
func (w *Writer) AppendStream(s Stream) error {
	for {
		u, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.Append(u); err != nil {
			return err
		}
	}
}

// Count 已追加的记录数
func (w *Writer) Count() uint64 { return w.b.meta.Count }

// Close 写剩余 chunk + index table，回填 header，fsync 后关闭
// 出错时文件句柄同样会释放，调用方应当 Abort / 删除该文件
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	h, err := w.b.finish(w.hs)
	if err == nil {
		err = w.bw.Flush()
	}
	if err == nil {
		_, err = w.f.WriteAt(encodeHeader(h), 0)
	}
	if err == nil {
		err = w.f.Sync()
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	w.meta = h.meta
	return nil
}

// Abort 放弃写入并删除文件
func (w *Writer) Abort() error {
	if !w.done {
		w.done = true
		_ = w.f.Close()
	}
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Metadata Close 成功后有效
func (w *Writer) Metadata() Metadata { return w.meta }

// WriteFile 便捷函数：Create + 全部写入 + Close，失败时删除文件
func WriteFile(path, symbol string, s Stream, opts Options) (Metadata, error) {
	w, err := Create(path, symbol, opts)
	if err != nil {
		return Metadata{}, err
	}
	if err := w.AppendStream(s); err != nil {
		_ = w.Abort()
		return Metadata{}, err
	}
	if err := w.Close(); err != nil {
		_ = w.Abort()
		return Metadata{}, err
	}
	return w.Metadata(), nil
}
