package dtf

import (
	"errors"
	"io"
	"math"
	"os"
	"sort"

	"dtfstore.com/pkg/xerr"
)

// Reader 独占一个只读文件句柄和解析好的索引
// 迭代器之间互不干扰（全部走 ReadAt，不共享文件游标）
type Reader struct {
	f        *os.File
	path     string
	meta     Metadata
	index    []IndexEntry
	indexOff int64
}

// Open 解析 header + index table，不扫描记录体
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xerr.Wrap(xerr.NotFound, path, err)
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, xerr.At(xerr.NotFound, path, -1, "is a directory")
	}

	h, err := readHeader(f, path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	// index table 必须是文件的最后一段；先对上文件大小再读 index
	end := h.indexOff + int64(h.chunks)*indexEntrySize + indexCRCSize
	if st.Size() != end {
		_ = f.Close()
		return nil, xerr.At(xerr.CorruptFormat, path, end, "file size disagrees with index table end")
	}
	index, err := readIndex(f, h, path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Reader{f: f, path: path, meta: h.meta, index: index, indexOff: h.indexOff}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) Path() string        { return r.path }
func (r *Reader) Metadata() Metadata  { return r.meta }
func (r *Reader) Index() []IndexEntry { return r.index }
func (r *Reader) Empty() bool         { return r.meta.Count == 0 }

func (r *Reader) chunkLimit(i int) int64 {
	if i+1 < len(r.index) {
		return r.index[i+1].Offset
	}
	return r.indexOff
}

// ReadChunk 解码第 i 个 chunk，并校验它与下一个 chunk 首尾相接
func (r *Reader) ReadChunk(i int) ([]Update, error) {
	return r.readChunk(i, nil)
}

func (r *Reader) readChunk(i int, dst []Update) ([]Update, error) {
	e := r.index[i]
	limit := r.chunkLimit(i)
	recs, end, err := readChunk(r.f, e, limit, r.path, dst)
	if err != nil {
		return nil, err
	}
	if end != limit {
		return nil, xerr.At(xerr.CorruptFormat, r.path, end, "gap between chunks")
	}
	return recs, nil
}

// IterAll 全量迭代；每次调用都从头开始，互相独立
func (r *Reader) IterAll() *Iterator {
	return &Iterator{r: r, lo: 0, hi: len(r.index), minTs: math.MinInt64, maxTs: math.MaxInt64}
}

// IterRange 迭代 [minTs, maxTs] 内的记录
//
// 有序文件：二分 index 找到第一个 StartTs >= minTs 的 chunk，再往前退一个
// （minTs 可能落在前一个 chunk 的尾部）；遇到 StartTs > maxTs 的 chunk 停止。
// 非有序文件（checker 会报 TimeRegression 的那种）二分不成立，退化成全量扫描 + 过滤。
func (r *Reader) IterRange(minTs, maxTs int64) *Iterator {
	it := &Iterator{r: r, ranged: true, minTs: minTs, maxTs: maxTs}
	if minTs > maxTs || !r.meta.Overlaps(minTs, maxTs) {
		return it
	}
	if !r.meta.Monotonic {
		it.hi = len(r.index)
		return it
	}
	n := len(r.index)
	lo := sort.Search(n, func(i int) bool { return r.index[i].StartTs >= minTs })
	if lo > 0 {
		lo--
	}
	hi := sort.Search(n, func(i int) bool { return r.index[i].StartTs > maxTs })
	it.lo, it.hi, it.next = lo, hi, lo
	return it
}

// IterFiltered symbol 匹配时等价 IterAll，否则为空
func (r *Reader) IterFiltered(symbol string) *Iterator {
	if symbol != r.meta.Symbol {
		return &Iterator{r: r}
	}
	return r.IterAll()
}

// First 第一条记录，空文件返回 EmptyInput
func (r *Reader) First() (Update, error) {
	if r.Empty() {
		return Update{}, xerr.At(xerr.EmptyInput, r.path, -1, "file has no records")
	}
	recs, err := r.ReadChunk(0)
	if err != nil {
		return Update{}, err
	}
	return recs[0], nil
}

// Last 最后一条记录（按文件顺序），空文件返回 EmptyInput
func (r *Reader) Last() (Update, error) {
	if r.Empty() {
		return Update{}, xerr.At(xerr.EmptyInput, r.path, -1, "file has no records")
	}
	recs, err := r.ReadChunk(len(r.index) - 1)
	if err != nil {
		return Update{}, err
	}
	return recs[len(recs)-1], nil
}

// Iterator 一次只持有一个解码后的 chunk
type Iterator struct {
	r      *Reader
	lo, hi int // chunk 区间 [lo, hi)
	next   int

	ranged       bool
	minTs, maxTs int64

	buf []Update
	pos int
	err error
}

func (it *Iterator) Next() (Update, error) {
	for {
		for it.pos < len(it.buf) {
			u := it.buf[it.pos]
			it.pos++
			if !it.ranged {
				return u, nil
			}
			if u.Ts > it.maxTs && it.r.meta.Monotonic {
				// 有序文件后面不会再有范围内的记录
				it.buf, it.pos, it.next = nil, 0, it.hi
				return Update{}, io.EOF
			}
			if u.Ts >= it.minTs && u.Ts <= it.maxTs {
				return u, nil
			}
		}
		if it.err != nil {
			return Update{}, it.err
		}
		if it.next >= it.hi {
			return Update{}, io.EOF
		}
		recs, err := it.r.readChunk(it.next, it.buf)
		if err != nil {
			it.err = err
			it.buf, it.pos = nil, 0
			return Update{}, err
		}
		it.buf, it.pos = recs, 0
		it.next++
	}
}

// Reset 回到起点重新迭代
func (it *Iterator) Reset() {
	it.next = it.lo
	it.buf, it.pos, it.err = it.buf[:0], 0, nil
}
