package export

import (
	"errors"
	"io"

	"github.com/parquet-go/parquet-go"

	"dtfstore.com/internal/candle"
	"dtfstore.com/pkg/dtf"
)

// 列式导出：一行一条记录，给 pandas/numpy 侧直接读
// float 列方便分析，*_fixed 列保留无损的定点值
type UpdateRow struct {
	Ts         int64   `parquet:"ts"`
	Seq        uint64  `parquet:"seq"`
	IsTrade    bool    `parquet:"is_trade"`
	IsBid      bool    `parquet:"is_bid"`
	Price      float64 `parquet:"price"`
	Size       float64 `parquet:"size"`
	PriceFixed int64   `parquet:"price_fixed"`
	SizeFixed  int64   `parquet:"size_fixed"`
}

type CandleRow struct {
	Start      int64   `parquet:"start"`
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     float64 `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
}

const parquetBatch = 4096

func writerOptions(compressed bool) []parquet.WriterOption {
	if !compressed {
		return nil
	}
	return []parquet.WriterOption{parquet.Compression(&parquet.Zstd)}
}

// WriteParquet 把记录流写成 parquet，内存里最多 parquetBatch 行
func WriteParquet(w io.Writer, s dtf.Stream, compressed bool) (int64, error) {
	pw := parquet.NewGenericWriter[UpdateRow](w, writerOptions(compressed)...)
	return writeBatched(pw, func() (UpdateRow, error) {
		u, err := s.Next()
		if err != nil {
			return UpdateRow{}, err
		}
		return UpdateRow{
			Ts: u.Ts, Seq: u.Seq, IsTrade: u.IsTrade, IsBid: u.IsBid,
			Price: dtf.Float(u.Price), Size: dtf.Float(u.Size),
			PriceFixed: u.Price, SizeFixed: u.Size,
		}, nil
	})
}

// WriteCandlesParquet K 线版本
func WriteCandlesParquet(w io.Writer, cs *candle.Stream, compressed bool) (int64, error) {
	pw := parquet.NewGenericWriter[CandleRow](w, writerOptions(compressed)...)
	return writeBatched(pw, func() (CandleRow, error) {
		c, err := cs.Next()
		if err != nil {
			return CandleRow{}, err
		}
		return CandleRow{
			Start: c.Start,
			Open:  dtf.Float(c.Open), High: dtf.Float(c.High), Low: dtf.Float(c.Low), Close: dtf.Float(c.Close),
			Volume: dtf.Float(c.Volume), TradeCount: c.TradeCount,
		}, nil
	})
}

// writeBatched 拉到 io.EOF 为止，每攒满 parquetBatch 行写一次；出错时仍关闭 pw
func writeBatched[T any](pw *parquet.GenericWriter[T], next func() (T, error)) (int64, error) {
	rows := make([]T, 0, parquetBatch)
	var n int64

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := pw.Write(rows); err != nil {
			return err
		}
		n += int64(len(rows))
		rows = rows[:0]
		return nil
	}

	for {
		row, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = pw.Close()
			return n, err
		}
		rows = append(rows, row)
		if len(rows) == parquetBatch {
			if err := flush(); err != nil {
				_ = pw.Close()
				return n, err
			}
		}
	}
	if err := flush(); err != nil {
		_ = pw.Close()
		return n, err
	}
	return n, pw.Close()
}
