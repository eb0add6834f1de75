package dtf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"dtfstore.com/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// genUpdates 生成 n 条有序记录，交替成交/盘口
func genUpdates(n int, startTs, step int64) []Update {
	out := make([]Update, n)
	for i := range out {
		out[i] = Update{
			Ts:      startTs + int64(i)*step,
			Seq:     uint64(i + 1),
			IsTrade: i%3 == 0,
			IsBid:   i%2 == 0,
			Price:   30_000*Scale + int64(i)*1_234_567,
			Size:    int64(i+1) * 10_000,
		}
	}
	return out
}

func encodeToBytes(t *testing.T, symbol string, recs []Update, batch int) ([]byte, Metadata) {
	t.Helper()
	var buf bytes.Buffer
	meta, err := Encode(&buf, symbol, recs, Options{BatchSize: batch})
	require.NoError(t, err)
	return buf.Bytes(), meta
}

func decodeAll(t *testing.T, data []byte) (Metadata, []Update) {
	t.Helper()
	r := bytes.NewReader(data)
	meta, index, err := DecodeHeader(r)
	require.NoError(t, err)
	var out []Update
	for _, e := range index {
		recs, err := DecodeChunk(r, e)
		require.NoError(t, err)
		out = append(out, recs...)
	}
	return meta, out
}

func TestCodec_RoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		recs  []Update
		batch int
	}{
		{name: "empty", recs: nil, batch: 4},
		{name: "single", recs: genUpdates(1, 1_700_000_000_000, 10), batch: 4},
		{name: "exact_batches", recs: genUpdates(12, 1_700_000_000_000, 250), batch: 4},
		{name: "remainder", recs: genUpdates(11, 1_700_000_000_000, 250), batch: 4},
		{name: "equal_timestamps", recs: genUpdates(9, 1_700_000_000_000, 0), batch: 2},
		{
			name: "out_of_order",
			recs: []Update{
				{Ts: 5000, Seq: 10, IsTrade: true, Price: 1, Size: 2},
				{Ts: 4000, Seq: 9, Price: 3, Size: 4},
				{Ts: 6000, Seq: 11, IsBid: true, Price: 0, Size: 0},
				{Ts: -20, Seq: 1 << 63, IsTrade: true, Price: 1 << 62, Size: 7},
				{Ts: 7000, Seq: 0, Price: 9, Size: 9},
			},
			batch: 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, meta := encodeToBytes(t, "BTC-USDT", tc.recs, tc.batch)
			gotMeta, got := decodeAll(t, data)

			assert.Equal(t, meta, gotMeta)
			assert.Equal(t, "BTC-USDT", gotMeta.Symbol)
			assert.Equal(t, uint64(len(tc.recs)), gotMeta.Count)
			assert.Equal(t, Version, gotMeta.Version)
			if len(tc.recs) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.recs, got)

			lo, hi := tc.recs[0].Ts, tc.recs[0].Ts
			for _, u := range tc.recs {
				lo, hi = min(lo, u.Ts), max(hi, u.Ts)
			}
			assert.Equal(t, lo, gotMeta.MinTs)
			assert.Equal(t, hi, gotMeta.MaxTs)
		})
	}
}

func TestCodec_MonotonicFlagAndIndex(t *testing.T) {
	data, meta := encodeToBytes(t, "ETH-USDT", genUpdates(10, 1000, 100), 3)
	assert.True(t, meta.Monotonic)

	_, index, err := DecodeHeader(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, index, 4)
	assert.Equal(t, []uint32{3, 3, 3, 1}, []uint32{index[0].Count, index[1].Count, index[2].Count, index[3].Count})
	assert.Equal(t, int64(1000), index[0].StartTs)
	assert.Equal(t, int64(1300), index[1].StartTs)
	assert.Equal(t, headerSize("ETH-USDT"), index[0].Offset)

	_, meta = encodeToBytes(t, "ETH-USDT", []Update{{Ts: 2}, {Ts: 1}}, 3)
	assert.False(t, meta.Monotonic)
}

func TestCodec_RejectsNegative(t *testing.T) {
	var buf bytes.Buffer
	_, err := Encode(&buf, "X", []Update{{Ts: 1, Price: -1}}, Options{})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.ErrorIs(t, err, xerr.ErrInvalidArgument)
}

func TestCodec_CorruptFormat(t *testing.T) {
	recs := genUpdates(10, 1_700_000_000_000, 100)

	t.Run("bad_version", func(t *testing.T) {
		data, _ := encodeToBytes(t, "X", recs, 4)
		binary.LittleEndian.PutUint16(data[offVer:], MaxVersion+1)
		_, _, err := DecodeHeader(bytes.NewReader(data))
		assert.ErrorIs(t, err, xerr.ErrCorruptFormat)
	})

	t.Run("count_disagrees_with_chunks", func(t *testing.T) {
		data, _ := encodeToBytes(t, "X", recs, 4)
		binary.LittleEndian.PutUint64(data[offCount:], 11)
		_, _, err := DecodeHeader(bytes.NewReader(data))
		assert.ErrorIs(t, err, xerr.ErrCorruptFormat)
		assert.Contains(t, err.Error(), "disagrees with chunk counts")
	})

	t.Run("index_checksum", func(t *testing.T) {
		data, _ := encodeToBytes(t, "X", recs, 4)
		data[len(data)-5] ^= 0xff
		_, _, err := DecodeHeader(bytes.NewReader(data))
		assert.ErrorIs(t, err, xerr.ErrCorruptFormat)
	})

	t.Run("chunk_checksum", func(t *testing.T) {
		data, _ := encodeToBytes(t, "X", recs, 4)
		r := bytes.NewReader(data)
		_, index, err := DecodeHeader(r)
		require.NoError(t, err)
		data[index[0].Offset+chunkHeaderSize] ^= 0x01
		_, err = DecodeChunk(bytes.NewReader(data), index[0])
		assert.ErrorIs(t, err, xerr.ErrCorruptFormat)
	})

	t.Run("chunk_count_vs_index", func(t *testing.T) {
		data, _ := encodeToBytes(t, "X", recs, 4)
		_, index, err := DecodeHeader(bytes.NewReader(data))
		require.NoError(t, err)
		e := index[1]
		e.Count++
		_, err = DecodeChunk(bytes.NewReader(data), e)
		assert.ErrorIs(t, err, xerr.ErrCorruptFormat)
	})

	t.Run("truncated_index", func(t *testing.T) {
		data, _ := encodeToBytes(t, "X", recs, 4)
		_, _, err := DecodeHeader(bytes.NewReader(data[:len(data)-7]))
		assert.ErrorIs(t, err, xerr.ErrCorruptFormat)
	})

	t.Run("chunks_exceed_records", func(t *testing.T) {
		data, _ := encodeToBytes(t, "X", recs, 4)
		binary.LittleEndian.PutUint32(data[offChunks:], 0xFFFFFFFF)
		_, _, err := DecodeHeader(bytes.NewReader(data))
		assert.ErrorIs(t, err, xerr.ErrCorruptFormat)
	})

	t.Run("huge_chunks_and_count", func(t *testing.T) {
		// count 也被改大时，index 按块读，读到文件尾就报截断，不会按 header 一次性分配
		data, _ := encodeToBytes(t, "X", recs, 4)
		binary.LittleEndian.PutUint32(data[offChunks:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint64(data[offCount:], 1<<40)
		_, _, err := DecodeHeader(bytes.NewReader(data))
		assert.ErrorIs(t, err, xerr.ErrCorruptFormat)
	})

	t.Run("records_without_chunks", func(t *testing.T) {
		data, _ := encodeToBytes(t, "X", recs, 4)
		binary.LittleEndian.PutUint32(data[offChunks:], 0)
		_, _, err := DecodeHeader(bytes.NewReader(data))
		assert.ErrorIs(t, err, xerr.ErrCorruptFormat)
	})

	t.Run("bad_magic_is_not_found", func(t *testing.T) {
		data, _ := encodeToBytes(t, "X", recs, 4)
		data[0] = 'Z'
		_, _, err := DecodeHeader(bytes.NewReader(data))
		assert.ErrorIs(t, err, xerr.ErrNotFound)
	})
}

func TestDecodeRecords_CountVsBytes(t *testing.T) {
	recs := genUpdates(2, 100, 5)
	var p []byte
	var prev uint64
	for _, u := range recs {
		p = appendRecord(p, u, recs[0].Ts, prev)
		prev = u.Seq
	}

	got, err := decodeRecords(p, 2, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	t.Run("fewer_declared", func(t *testing.T) {
		_, err := decodeRecords(p, 1, 100, nil)
		var pe *payloadError
		require.True(t, errors.As(err, &pe))
		assert.Contains(t, pe.msg, "disagrees")
	})

	t.Run("more_declared", func(t *testing.T) {
		_, err := decodeRecords(p, 3, 100, nil)
		var pe *payloadError
		require.True(t, errors.As(err, &pe))
		assert.Contains(t, pe.msg, "exceeds")
	})
}

func TestFixed(t *testing.T) {
	v, err := ParseFixed("3052.18")
	require.NoError(t, err)
	assert.Equal(t, int64(305218000000), v)
	assert.Equal(t, "3052.18000000", FormatFixed(v))

	// 超过 8 位截断
	v, err = ParseFixed("1.123456789")
	require.NoError(t, err)
	assert.Equal(t, Scale+12345678, v)

	_, err = ParseFixed("abc")
	assert.Error(t, err)

	assert.InDelta(t, 0.31, Float(31_000_000), 1e-12)
}
