package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"dtfstore.com/internal/candle"
	"dtfstore.com/pkg/dtf"
)

// Format 文本输出格式
type Format int

const (
	Plain Format = iota
	CSV
	JSON // 每行一个 JSON 对象
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain", "text":
		return Plain, nil
	case "csv":
		return CSV, nil
	case "json", "jsonl":
		return JSON, nil
	default:
		return Plain, fmt.Errorf("export: unsupported format %q (use: plain, csv, json)", s)
	}
}

type updateRow struct {
	Ts      int64           `json:"ts"`
	Seq     uint64          `json:"seq"`
	IsTrade bool            `json:"is_trade"`
	IsBid   bool            `json:"is_bid"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
}

type candleRow struct {
	Symbol     string          `json:"symbol,omitempty"`
	Start      int64           `json:"start"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	TradeCount int64           `json:"trade_count"`
}

var (
	updateHeader = []string{"ts", "seq", "is_trade", "is_bid", "price", "size"}
	candleHeader = []string{"start", "open", "high", "low", "close", "volume", "trade_count"}
)

// TextWriter 把记录或 K 线按行写出；Flush 之前内容可能还在缓冲里
type TextWriter struct {
	f     Format
	bw    *bufio.Writer
	cw    *csv.Writer
	enc   *json.Encoder
	wrote bool
}

func NewTextWriter(w io.Writer, f Format) *TextWriter {
	tw := &TextWriter{f: f, bw: bufio.NewWriterSize(w, 64<<10)}
	switch f {
	case CSV:
		tw.cw = csv.NewWriter(tw.bw)
	case JSON:
		tw.enc = json.NewEncoder(tw.bw)
	}
	return tw
}

func (tw *TextWriter) header(h []string) error {
	if tw.wrote {
		return nil
	}
	tw.wrote = true
	if tw.f == CSV {
		return tw.cw.Write(h)
	}
	return nil
}

func (tw *TextWriter) WriteUpdate(u dtf.Update) error {
	switch tw.f {
	case CSV:
		if err := tw.header(updateHeader); err != nil {
			return err
		}
		return tw.cw.Write([]string{
			strconv.FormatInt(u.Ts, 10),
			strconv.FormatUint(u.Seq, 10),
			strconv.FormatBool(u.IsTrade),
			strconv.FormatBool(u.IsBid),
			dtf.Decimal(u.Price).String(),
			dtf.Decimal(u.Size).String(),
		})
	case JSON:
		return tw.enc.Encode(updateRow{
			Ts: u.Ts, Seq: u.Seq, IsTrade: u.IsTrade, IsBid: u.IsBid,
			Price: dtf.Decimal(u.Price), Size: dtf.Decimal(u.Size),
		})
	default:
		_, err := fmt.Fprintln(tw.bw, u.String())
		return err
	}
}

func (tw *TextWriter) WriteCandle(c candle.Candle) error {
	switch tw.f {
	case CSV:
		if err := tw.header(candleHeader); err != nil {
			return err
		}
		return tw.cw.Write([]string{
			strconv.FormatInt(c.Start, 10),
			dtf.Decimal(c.Open).String(),
			dtf.Decimal(c.High).String(),
			dtf.Decimal(c.Low).String(),
			dtf.Decimal(c.Close).String(),
			dtf.Decimal(c.Volume).String(),
			strconv.FormatInt(c.TradeCount, 10),
		})
	case JSON:
		return tw.enc.Encode(candleRow{
			Symbol: c.Symbol, Start: c.Start,
			Open: dtf.Decimal(c.Open), High: dtf.Decimal(c.High), Low: dtf.Decimal(c.Low), Close: dtf.Decimal(c.Close),
			Volume: dtf.Decimal(c.Volume), TradeCount: c.TradeCount,
		})
	default:
		_, err := fmt.Fprintln(tw.bw, c.String())
		return err
	}
}

// WriteMetadata 元数据单独输出（cat -m）
func (tw *TextWriter) WriteMetadata(path string, m dtf.Metadata) error {
	switch tw.f {
	case CSV:
		if err := tw.header([]string{"path", "symbol", "count", "min_ts", "max_ts", "version", "monotonic"}); err != nil {
			return err
		}
		return tw.cw.Write([]string{
			path, m.Symbol,
			strconv.FormatUint(m.Count, 10),
			strconv.FormatInt(m.MinTs, 10),
			strconv.FormatInt(m.MaxTs, 10),
			strconv.FormatUint(uint64(m.Version), 10),
			strconv.FormatBool(m.Monotonic),
		})
	case JSON:
		return tw.enc.Encode(struct {
			Path string `json:"path"`
			dtf.Metadata
		}{path, m})
	default:
		_, err := fmt.Fprintf(tw.bw, "%s: symbol=%s count=%d min_ts=%d max_ts=%d version=%d monotonic=%v\n",
			path, m.Symbol, m.Count, m.MinTs, m.MaxTs, m.Version, m.Monotonic)
		return err
	}
}

// WriteValue 任意可 JSON 化的值（check/repair 的报告）；非 JSON 格式按 %v 输出
func (tw *TextWriter) WriteValue(v any) error {
	if tw.f == JSON {
		return tw.enc.Encode(v)
	}
	_, err := fmt.Fprintln(tw.bw, v)
	return err
}

func (tw *TextWriter) Flush() error {
	if tw.cw != nil {
		tw.cw.Flush()
		if err := tw.cw.Error(); err != nil {
			return err
		}
	}
	return tw.bw.Flush()
}
