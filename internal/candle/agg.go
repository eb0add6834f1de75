package candle

import (
	"errors"
	"fmt"
	"io"
	"time"

	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/metrics"
	"dtfstore.com/pkg/xerr"
)

// Candle：OHLCV（定点数，Scale=1e8）
// - Start 表示这个桶覆盖的时间窗 [Start, Start+Interval)
// - Open/High/Low/Close 只来自成交
// - Volume：桶内所有参与记录的 size 累加
type Candle struct {
	Symbol   string        `json:"symbol"`
	Interval time.Duration `json:"interval"`
	Start    int64         `json:"start"`

	Open  int64 `json:"open"`
	High  int64 `json:"high"`
	Low   int64 `json:"low"`
	Close int64 `json:"close"`

	Volume     int64 `json:"volume"`
	TradeCount int64 `json:"trade_count"`
}

func (c Candle) End() int64 { return c.Start + c.Interval.Milliseconds() }

// Valid low <= min(open,close) <= max(open,close) <= high
func (c Candle) Valid() bool {
	return c.Low <= min(c.Open, c.Close) && max(c.Open, c.Close) <= c.High
}

func (c Candle) String() string {
	return fmt.Sprintf("%s %s [%d,%d) O=%s H=%s L=%s C=%s V=%s n=%d",
		c.Symbol, c.Interval,
		c.Start, c.End(),
		dtf.FormatFixed(c.Open), dtf.FormatFixed(c.High), dtf.FormatFixed(c.Low), dtf.FormatFixed(c.Close),
		dtf.FormatFixed(c.Volume), c.TradeCount,
	)
}

type Options struct {
	Interval time.Duration
	// Aligned：桶边界对齐到绝对时间网格；否则以第一条记录的时间为 0 号桶起点
	Aligned bool
	// TradesOnly：盘口记录完全忽略（不计入 volume）
	TradesOnly bool
	Symbol     string
}

// Stream 把记录流聚合成 K 线流
//
// 只维护一根"正在构建"的 bar：
// - 新桶：旧 bar 有成交就输出，然后开新桶
// - 同桶：更新 OHLCV
// - 旧桶（乱序回退）：丢弃并计数，不往回合并
type Stream struct {
	src        dtf.Stream
	opts       Options
	intervalMs int64

	origin    int64
	hasOrigin bool

	cur  Candle
	open bool

	lateDrops int64
	done      bool
	err       error
}

func Aggregate(s dtf.Stream, o Options) *Stream {
	a := &Stream{src: s, opts: o, intervalMs: o.Interval.Milliseconds()}
	if a.intervalMs <= 0 {
		a.err = xerr.Newf(xerr.InvalidArgument, "candle interval must be at least 1ms, got %s", o.Interval)
	}
	return a
}

// LateDrops 因为落在已关闭的桶而被丢弃的记录数
func (a *Stream) LateDrops() int64 { return a.lateDrops }

func (a *Stream) Next() (Candle, error) {
	if a.err != nil {
		return Candle{}, a.err
	}
	for !a.done {
		u, err := a.src.Next()
		if errors.Is(err, io.EOF) {
			a.done = true
			break
		}
		if err != nil {
			a.err = err
			return Candle{}, err
		}
		if a.opts.TradesOnly && !u.IsTrade {
			continue
		}

		bs := a.bucketStart(u.Ts)
		if a.open && bs < a.cur.Start {
			a.lateDrops++
			metrics.CandleLateDrops.Inc()
			continue
		}
		if !a.open || bs > a.cur.Start {
			prev, emit := a.cur, a.open && a.cur.TradeCount > 0
			a.cur = Candle{Symbol: a.opts.Symbol, Interval: a.opts.Interval, Start: bs}
			a.open = true
			a.add(u)
			if emit {
				return prev, nil
			}
			continue
		}
		a.add(u)
	}

	// 输入结束：输出最后一根
	if a.open {
		a.open = false
		if a.cur.TradeCount > 0 {
			return a.cur, nil
		}
	}
	return Candle{}, io.EOF
}

func (a *Stream) add(u dtf.Update) {
	a.cur.Volume += u.Size
	if !u.IsTrade {
		return
	}
	if a.cur.TradeCount == 0 {
		a.cur.Open, a.cur.High, a.cur.Low = u.Price, u.Price, u.Price
	} else {
		a.cur.High = max(a.cur.High, u.Price)
		a.cur.Low = min(a.cur.Low, u.Price)
	}
	a.cur.Close = u.Price
	a.cur.TradeCount++
}

func (a *Stream) bucketStart(ts int64) int64 {
	if a.opts.Aligned {
		return bucketStartMs(ts, a.intervalMs, 0)
	}
	if !a.hasOrigin {
		a.origin, a.hasOrigin = ts, true
	}
	return bucketStartMs(ts, a.intervalMs, a.origin)
}

// bucketStartMs：ts 所在桶的起点，网格为 origin + k*interval
// 用 floor 除法，负数时间戳（早于 origin）也落在正确的桶
func bucketStartMs(tsMs, intervalMs, originMs int64) int64 {
	x := tsMs - originMs
	q := x / intervalMs
	if x%intervalMs != 0 && x < 0 {
		q--
	}
	return q*intervalMs + originMs
}

// Collect 读完整个 K 线流
func Collect(s *Stream) ([]Candle, error) {
	var out []Candle
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}
