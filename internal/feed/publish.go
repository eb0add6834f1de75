package feed

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"dtfstore.com/internal/candle"
	"dtfstore.com/pkg/dtf"
)

// Topic 记录流默认 topic
func Topic(symbol string) string { return "dtf:" + symbol }

// CandleTopic candle:1m:BTC-USDT
func CandleTopic(d time.Duration, symbol string) string {
	return "candle:" + candle.TF(d) + ":" + symbol
}

// UpdateMsg 线上格式：价格和数量用十进制字符串，不丢精度
type UpdateMsg struct {
	Ts      int64           `json:"ts"`
	Seq     uint64          `json:"seq"`
	IsTrade bool            `json:"is_trade"`
	IsBid   bool            `json:"is_bid"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
}

func (m UpdateMsg) Update() (dtf.Update, error) {
	p, err := dtf.ParseFixed(m.Price.String())
	if err != nil {
		return dtf.Update{}, err
	}
	s, err := dtf.ParseFixed(m.Size.String())
	if err != nil {
		return dtf.Update{}, err
	}
	return dtf.Update{Ts: m.Ts, Seq: m.Seq, IsTrade: m.IsTrade, IsBid: m.IsBid, Price: p, Size: s}, nil
}

type CandleMsg struct {
	Symbol string          `json:"s"`
	TF     string          `json:"tf"`
	Start  int64           `json:"t"`
	Open   decimal.Decimal `json:"o"`
	High   decimal.Decimal `json:"h"`
	Low    decimal.Decimal `json:"l"`
	Close  decimal.Decimal `json:"c"`
	Volume decimal.Decimal `json:"v"`
	Count  int64           `json:"n"`
}

func EncodeUpdate(u dtf.Update) ([]byte, error) {
	return json.Marshal(UpdateMsg{
		Ts: u.Ts, Seq: u.Seq, IsTrade: u.IsTrade, IsBid: u.IsBid,
		Price: dtf.Decimal(u.Price), Size: dtf.Decimal(u.Size),
	})
}

func DecodeUpdate(b []byte) (dtf.Update, error) {
	var m UpdateMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return dtf.Update{}, err
	}
	return m.Update()
}

func EncodeCandle(c candle.Candle) ([]byte, error) {
	return json.Marshal(CandleMsg{
		Symbol: c.Symbol, TF: candle.TF(c.Interval), Start: c.Start,
		Open: dtf.Decimal(c.Open), High: dtf.Decimal(c.High), Low: dtf.Decimal(c.Low), Close: dtf.Decimal(c.Close),
		Volume: dtf.Decimal(c.Volume), Count: c.TradeCount,
	})
}

// Publish 把整条记录流按顺序发出去，返回发送条数
func Publish(ctx context.Context, b Broker, topic string, s dtf.Stream) (int64, error) {
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		u, err := s.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		payload, err := EncodeUpdate(u)
		if err != nil {
			return n, err
		}
		if err := b.Publish(ctx, topic, payload); err != nil {
			return n, err
		}
		n++
	}
}

// PublishCandles 每根 K 线发到 candle:<tf>:<symbol>
func PublishCandles(ctx context.Context, b Broker, cs *candle.Stream) (int64, error) {
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		c, err := cs.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		payload, err := EncodeCandle(c)
		if err != nil {
			return n, err
		}
		if err := b.Publish(ctx, CandleTopic(c.Interval, c.Symbol), payload); err != nil {
			return n, err
		}
		n++
	}
}
