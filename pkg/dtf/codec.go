package dtf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"dtfstore.com/pkg/metrics"
	"dtfstore.com/pkg/xerr"
)

// 文件布局（小端）：
//
//	header | chunk_0 | chunk_1 | ... | index table
//
// header 固定部分 46 字节 + symbol；index table 在文件尾，header 里记录它的偏移，
// 这样 Writer 可以流式写 chunk，最后回填 header。
const Magic = "DTF\x01"

const (
	Version    uint16 = 1
	MinVersion uint16 = 1
	MaxVersion uint16 = 1
)

// header 固定偏移
const (
	offMagic    = 0
	offVer      = 4
	offFlags    = 6
	offCount    = 8
	offMinTs    = 16
	offMaxTs    = 24
	offChunks   = 32
	offIndexOff = 36
	offSymLen   = 44

	fixedHeaderSize = 46
)

// chunk 头：count(4) + firstTs(8) + payloadLen(4) + crc32(4)
const (
	chunkHeaderSize = 20
	indexEntrySize  = 20 // startTs(8) + offset(8) + count(4)
	indexCRCSize    = 4
)

const (
	flagMonotonic = 1 << 0

	recTrade = 1 << 0
	recBid   = 1 << 1
)

const (
	DefaultBatchSize = 2048
	MaxSymbolLen     = 255

	// 单个 chunk payload 上限，防止坏数据把内存吃爆
	maxChunkPayload = 64 << 20
)

// ErrInvalidRecord 负数价格/数量不能编码
var ErrInvalidRecord = xerr.New(xerr.InvalidArgument, "price and size must be non-negative")

// Options：编码参数
type Options struct {
	BatchSize  int // 每个 chunk 的记录数
	BufferSize int // Writer 的 bufio 大小
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

type fileHeader struct {
	meta     Metadata
	chunks   uint32
	indexOff int64
	size     int64 // header 总长度
}

func headerSize(symbol string) int64 {
	return int64(fixedHeaderSize + len(symbol))
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, headerSize(h.meta.Symbol))
	copy(buf[offMagic:], Magic)
	binary.LittleEndian.PutUint16(buf[offVer:], h.meta.Version)
	var flags uint16
	if h.meta.Monotonic {
		flags |= flagMonotonic
	}
	binary.LittleEndian.PutUint16(buf[offFlags:], flags)
	binary.LittleEndian.PutUint64(buf[offCount:], h.meta.Count)
	binary.LittleEndian.PutUint64(buf[offMinTs:], uint64(h.meta.MinTs))
	binary.LittleEndian.PutUint64(buf[offMaxTs:], uint64(h.meta.MaxTs))
	binary.LittleEndian.PutUint32(buf[offChunks:], h.chunks)
	binary.LittleEndian.PutUint64(buf[offIndexOff:], uint64(h.indexOff))
	binary.LittleEndian.PutUint16(buf[offSymLen:], uint16(len(h.meta.Symbol)))
	copy(buf[fixedHeaderSize:], h.meta.Symbol)
	return buf
}

func readHeader(r io.ReaderAt, path string) (fileHeader, error) {
	var fixed [fixedHeaderSize]byte
	n, err := r.ReadAt(fixed[:], 0)
	if n < len(Magic) || string(fixed[offMagic:offMagic+len(Magic)]) != Magic {
		return fileHeader{}, xerr.At(xerr.NotFound, path, 0, "not a dtf file")
	}
	if n < fixedHeaderSize {
		return fileHeader{}, xerr.At(xerr.CorruptFormat, path, int64(n), "header truncated")
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fileHeader{}, xerr.Wrap(xerr.CorruptFormat, path, err)
	}

	ver := binary.LittleEndian.Uint16(fixed[offVer:])
	if ver < MinVersion || ver > MaxVersion {
		return fileHeader{}, xerr.At(xerr.CorruptFormat, path, offVer, fmt.Sprintf("unsupported version %d", ver))
	}
	flags := binary.LittleEndian.Uint16(fixed[offFlags:])
	symLen := int(binary.LittleEndian.Uint16(fixed[offSymLen:]))

	sym := make([]byte, symLen)
	if symLen > 0 {
		if n, _ := r.ReadAt(sym, fixedHeaderSize); n < symLen {
			return fileHeader{}, xerr.At(xerr.CorruptFormat, path, fixedHeaderSize+int64(n), "symbol truncated")
		}
	}

	h := fileHeader{
		meta: Metadata{
			Symbol:    string(sym),
			Count:     binary.LittleEndian.Uint64(fixed[offCount:]),
			MinTs:     int64(binary.LittleEndian.Uint64(fixed[offMinTs:])),
			MaxTs:     int64(binary.LittleEndian.Uint64(fixed[offMaxTs:])),
			Version:   ver,
			Monotonic: flags&flagMonotonic != 0,
		},
		chunks:   binary.LittleEndian.Uint32(fixed[offChunks:]),
		indexOff: int64(binary.LittleEndian.Uint64(fixed[offIndexOff:])),
		size:     int64(fixedHeaderSize + symLen),
	}
	if h.indexOff == 0 {
		// Writer 没有正常 Close，header 还是占位内容
		return fileHeader{}, xerr.At(xerr.CorruptFormat, path, offIndexOff, "incomplete file: index offset not written")
	}
	if h.indexOff < h.size {
		return fileHeader{}, xerr.At(xerr.CorruptFormat, path, offIndexOff, "index offset inside header")
	}
	// 每个 chunk 至少一条记录
	if uint64(h.chunks) > h.meta.Count || (h.meta.Count > 0 && h.chunks == 0) {
		return fileHeader{}, xerr.At(xerr.CorruptFormat, path, offChunks,
			fmt.Sprintf("header has %d chunks for %d records", h.chunks, h.meta.Count))
	}
	if h.meta.Count > 0 && h.meta.MinTs > h.meta.MaxTs {
		return fileHeader{}, xerr.At(xerr.CorruptFormat, path, offMinTs, "min timestamp after max timestamp")
	}
	return h, nil
}

// indexReadEntries 每次读 index table 的条目数；chunks 来自 header，不可信，不能一次按它分配
const indexReadEntries = 4096

func readIndex(r io.ReaderAt, h fileHeader, path string) ([]IndexEntry, error) {
	var (
		index []IndexEntry
		total uint64
		crc   uint32
		buf   = make([]byte, min(int(h.chunks), indexReadEntries)*indexEntrySize)
		off   = h.indexOff
	)
	for remaining := int(h.chunks); remaining > 0; {
		n := min(remaining, indexReadEntries)
		part := buf[:n*indexEntrySize]
		if err := readFull(r, part, off, path, "index table truncated"); err != nil {
			return nil, err
		}
		crc = crc32.Update(crc, crc32.IEEETable, part)

		for j := 0; j < n; j++ {
			p := part[j*indexEntrySize:]
			e := IndexEntry{
				StartTs: int64(binary.LittleEndian.Uint64(p[0:8])),
				Offset:  int64(binary.LittleEndian.Uint64(p[8:16])),
				Count:   binary.LittleEndian.Uint32(p[16:20]),
			}
			i := len(index)
			entryOff := off + int64(j*indexEntrySize)
			switch {
			case e.Count == 0:
				return nil, xerr.At(xerr.CorruptFormat, path, entryOff, "empty chunk in index")
			case i == 0 && e.Offset != h.size:
				return nil, xerr.At(xerr.CorruptFormat, path, entryOff, "first chunk does not follow header")
			case i > 0 && e.Offset <= index[i-1].Offset:
				return nil, xerr.At(xerr.CorruptFormat, path, entryOff, "chunk offsets not ascending")
			case e.Offset+chunkHeaderSize > h.indexOff:
				return nil, xerr.At(xerr.CorruptFormat, path, entryOff, "chunk offset beyond body")
			case h.meta.Monotonic && i > 0 && e.StartTs < index[i-1].StartTs:
				return nil, xerr.At(xerr.CorruptFormat, path, entryOff, "index not sorted by timestamp")
			}
			total += uint64(e.Count)
			index = append(index, e)
		}
		off += int64(len(part))
		remaining -= n
	}

	var sum [indexCRCSize]byte
	if err := readFull(r, sum[:], off, path, "index table truncated"); err != nil {
		return nil, err
	}
	if crc != binary.LittleEndian.Uint32(sum[:]) {
		return nil, xerr.At(xerr.CorruptFormat, path, h.indexOff, "index checksum mismatch")
	}
	if total != h.meta.Count {
		return nil, xerr.At(xerr.CorruptFormat, path, offCount,
			fmt.Sprintf("header count %d disagrees with chunk counts %d", h.meta.Count, total))
	}
	return index, nil
}

// readFull ReadAt 读满 p，短读都算 CorruptFormat
func readFull(r io.ReaderAt, p []byte, off int64, path, msg string) error {
	n, err := r.ReadAt(p, off)
	if n < len(p) {
		if err == nil || errors.Is(err, io.EOF) {
			return xerr.At(xerr.CorruptFormat, path, off+int64(n), msg)
		}
		return xerr.Wrap(xerr.CorruptFormat, path, err)
	}
	return nil
}

// DecodeHeader 解析 header 与 index table，开销 O(chunk 数)
func DecodeHeader(r io.ReaderAt) (Metadata, []IndexEntry, error) {
	h, err := readHeader(r, "")
	if err != nil {
		return Metadata{}, nil, err
	}
	index, err := readIndex(r, h, "")
	if err != nil {
		return Metadata{}, nil, err
	}
	return h.meta, index, nil
}

// DecodeChunk 解码一个 chunk 的全部记录
func DecodeChunk(r io.ReaderAt, e IndexEntry) ([]Update, error) {
	recs, _, err := readChunk(r, e, math.MaxInt64, "", nil)
	return recs, err
}

// readChunk 读取并校验一个 chunk，limit 是 chunk 不能越过的边界（index table 起点）
// 返回 chunk 结束偏移，调用方用它校验 chunk 之间是否连续
func readChunk(r io.ReaderAt, e IndexEntry, limit int64, path string, dst []Update) ([]Update, int64, error) {
	var hdr [chunkHeaderSize]byte
	if n, err := r.ReadAt(hdr[:], e.Offset); n < chunkHeaderSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, xerr.Wrap(xerr.CorruptFormat, path, err)
		}
		return nil, 0, xerr.At(xerr.CorruptFormat, path, e.Offset, "chunk header truncated")
	}
	count := binary.LittleEndian.Uint32(hdr[0:4])
	firstTs := int64(binary.LittleEndian.Uint64(hdr[4:12]))
	payloadLen := int64(binary.LittleEndian.Uint32(hdr[12:16]))
	crc := binary.LittleEndian.Uint32(hdr[16:20])

	if count != e.Count {
		return nil, 0, xerr.At(xerr.CorruptFormat, path, e.Offset,
			fmt.Sprintf("chunk count %d disagrees with index count %d", count, e.Count))
	}
	if firstTs != e.StartTs {
		return nil, 0, xerr.At(xerr.CorruptFormat, path, e.Offset+4, "chunk start timestamp disagrees with index")
	}
	end := e.Offset + chunkHeaderSize + payloadLen
	if payloadLen > maxChunkPayload || end > limit {
		return nil, 0, xerr.At(xerr.CorruptFormat, path, e.Offset+12, "chunk payload length out of range")
	}

	payload := make([]byte, payloadLen)
	if n, err := r.ReadAt(payload, e.Offset+chunkHeaderSize); int64(n) < payloadLen {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, xerr.Wrap(xerr.CorruptFormat, path, err)
		}
		return nil, 0, xerr.At(xerr.CorruptFormat, path, e.Offset+chunkHeaderSize+int64(n), "chunk payload truncated")
	}
	if crc32.ChecksumIEEE(payload) != crc {
		return nil, 0, xerr.At(xerr.CorruptFormat, path, e.Offset+16, "chunk checksum mismatch")
	}

	recs, err := decodeRecords(payload, count, firstTs, dst[:0])
	if err != nil {
		var pe *payloadError
		if errors.As(err, &pe) {
			return nil, 0, xerr.At(xerr.CorruptFormat, path, e.Offset+chunkHeaderSize+int64(pe.pos), pe.msg)
		}
		return nil, 0, err
	}

	metrics.ChunksDecoded.Inc()
	metrics.RecordsDecoded.Add(float64(len(recs)))
	return recs, end, nil
}

type payloadError struct {
	pos int
	msg string
}

func (e *payloadError) Error() string { return e.msg }

// decodeRecords：按 count 逐条解码，消耗的字节数必须刚好等于 payload 长度
func decodeRecords(p []byte, count uint32, firstTs int64, dst []Update) ([]Update, error) {
	pos := 0
	var prevSeq uint64
	for i := uint32(0); i < count; i++ {
		dts, n := binary.Varint(p[pos:])
		if n <= 0 {
			return nil, &payloadError{pos, "record count exceeds payload"}
		}
		pos += n
		if i == 0 && dts != 0 {
			return nil, &payloadError{pos, "first record timestamp disagrees with chunk start"}
		}
		dseq, n := binary.Varint(p[pos:])
		if n <= 0 {
			return nil, &payloadError{pos, "record count exceeds payload"}
		}
		pos += n
		if pos >= len(p) {
			return nil, &payloadError{pos, "record count exceeds payload"}
		}
		flags := p[pos]
		pos++
		price, n := binary.Uvarint(p[pos:])
		if n <= 0 || price > math.MaxInt64 {
			return nil, &payloadError{pos, "bad price encoding"}
		}
		pos += n
		size, n := binary.Uvarint(p[pos:])
		if n <= 0 || size > math.MaxInt64 {
			return nil, &payloadError{pos, "bad size encoding"}
		}
		pos += n

		seq := prevSeq + uint64(dseq)
		prevSeq = seq
		dst = append(dst, Update{
			Ts:      firstTs + dts,
			Seq:     seq,
			IsTrade: flags&recTrade != 0,
			IsBid:   flags&recBid != 0,
			Price:   int64(price),
			Size:    int64(size),
		})
	}
	if pos != len(p) {
		return nil, &payloadError{pos, "record count disagrees with payload length"}
	}
	return dst, nil
}

// appendRecord：ts 存相对 chunk 起点的差值，seq 存相对上一条的差值，都用 zigzag varint
// seq 差值按补码回绕，乱序/回退的 seq 也能无损还原
func appendRecord(dst []byte, u Update, firstTs int64, prevSeq uint64) []byte {
	dst = binary.AppendVarint(dst, u.Ts-firstTs)
	dst = binary.AppendVarint(dst, int64(u.Seq-prevSeq))
	var flags byte
	if u.IsTrade {
		flags |= recTrade
	}
	if u.IsBid {
		flags |= recBid
	}
	dst = append(dst, flags)
	dst = binary.AppendUvarint(dst, uint64(u.Price))
	dst = binary.AppendUvarint(dst, uint64(u.Size))
	return dst
}

// builder：把记录切成 chunk 写到 out，同时累计元数据和索引
// Writer 和 Encode 共用
type builder struct {
	out     io.Writer
	off     int64
	batch   int
	meta    Metadata
	index   []IndexEntry
	pending []Update
	payload []byte
	lastTs  int64
}

func newBuilder(out io.Writer, symbol string, start int64, batch int) *builder {
	return &builder{
		out:     out,
		off:     start,
		batch:   batch,
		meta:    Metadata{Symbol: symbol, Version: Version, Monotonic: true},
		pending: make([]Update, 0, batch),
	}
}

func (b *builder) add(u Update) error {
	if u.Price < 0 || u.Size < 0 {
		return ErrInvalidRecord
	}
	if b.meta.Count == 0 {
		b.meta.MinTs, b.meta.MaxTs = u.Ts, u.Ts
	} else {
		if u.Ts < b.lastTs {
			b.meta.Monotonic = false
		}
		b.meta.MinTs = min(b.meta.MinTs, u.Ts)
		b.meta.MaxTs = max(b.meta.MaxTs, u.Ts)
	}
	b.lastTs = u.Ts
	b.meta.Count++
	b.pending = append(b.pending, u)
	if len(b.pending) >= b.batch {
		return b.flush()
	}
	return nil
}

func (b *builder) flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	firstTs := b.pending[0].Ts
	b.payload = b.payload[:0]
	var prevSeq uint64
	for _, u := range b.pending {
		b.payload = appendRecord(b.payload, u, firstTs, prevSeq)
		prevSeq = u.Seq
	}
	if len(b.payload) > maxChunkPayload {
		return xerr.Newf(xerr.InvalidArgument, "chunk payload %d bytes exceeds limit, lower batch size", len(b.payload))
	}

	var hdr [chunkHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(b.pending)))
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(firstTs))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(b.payload)))
	binary.LittleEndian.PutUint32(hdr[16:20], crc32.ChecksumIEEE(b.payload))
	if _, err := b.out.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := b.out.Write(b.payload); err != nil {
		return err
	}

	b.index = append(b.index, IndexEntry{StartTs: firstTs, Offset: b.off, Count: uint32(len(b.pending))})
	b.off += int64(chunkHeaderSize + len(b.payload))
	b.pending = b.pending[:0]
	return nil
}

// finish 写出剩余 chunk 和 index table，返回回填用的 header
func (b *builder) finish(hdrSize int64) (fileHeader, error) {
	if err := b.flush(); err != nil {
		return fileHeader{}, err
	}
	if b.meta.Count == 0 {
		b.meta.MinTs, b.meta.MaxTs = 0, 0
	}
	indexOff := b.off
	table := make([]byte, 0, len(b.index)*indexEntrySize+indexCRCSize)
	for _, e := range b.index {
		table = binary.LittleEndian.AppendUint64(table, uint64(e.StartTs))
		table = binary.LittleEndian.AppendUint64(table, uint64(e.Offset))
		table = binary.LittleEndian.AppendUint32(table, e.Count)
	}
	table = binary.LittleEndian.AppendUint32(table, crc32.ChecksumIEEE(table))
	if _, err := b.out.Write(table); err != nil {
		return fileHeader{}, err
	}
	b.off += int64(len(table))
	return fileHeader{
		meta:     b.meta,
		chunks:   uint32(len(b.index)),
		indexOff: indexOff,
		size:     hdrSize,
	}, nil
}

func validSymbol(symbol string) error {
	if len(symbol) > MaxSymbolLen {
		return xerr.Newf(xerr.InvalidArgument, "symbol longer than %d bytes", MaxSymbolLen)
	}
	return nil
}

// Encode 把内存中的记录整体编码写到 w，元数据由记录算出
func Encode(w io.Writer, symbol string, records []Update, opts Options) (Metadata, error) {
	if err := validSymbol(symbol); err != nil {
		return Metadata{}, err
	}
	hs := headerSize(symbol)
	var body bytes.Buffer
	b := newBuilder(&body, symbol, hs, opts.batchSize())
	for _, u := range records {
		if err := b.add(u); err != nil {
			return Metadata{}, err
		}
	}
	h, err := b.finish(hs)
	if err != nil {
		return Metadata{}, err
	}
	if _, err := w.Write(encodeHeader(h)); err != nil {
		return Metadata{}, err
	}
	if _, err := body.WriteTo(w); err != nil {
		return Metadata{}, err
	}
	return h.meta, nil
}
