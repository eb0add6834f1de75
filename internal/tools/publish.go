package tools

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"dtfstore.com/internal/candle"
	"dtfstore.com/internal/export"
	"dtfstore.com/internal/feed"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/logger"
	"dtfstore.com/pkg/xerr"
)

type PublishOptions struct {
	Input string
	Topic string // 空：dtf:<symbol>

	Min, Max int64

	// 发 K 线而不是原始记录，topic 固定为 candle:<tf>:<symbol>
	Timebars    bool
	Aligned     bool
	Granularity time.Duration
	TradesOnly  bool
}

// Publish 回放一个文件到 broker，返回发送条数
func (r *Runner) Publish(ctx context.Context, b feed.Broker, o PublishOptions) (int64, error) {
	if o.Min > o.Max {
		return 0, xerr.Newf(xerr.InvalidArgument, "publish: --min %d is after --max %d", o.Min, o.Max)
	}
	rd, err := dtf.Open(o.Input)
	if err != nil {
		return 0, err
	}
	defer rd.Close()

	symbol := rd.Metadata().Symbol
	s := rd.IterRange(o.Min, o.Max)

	var n int64
	if o.Timebars {
		cs := candle.Aggregate(s, r.candleOptions(symbol, o.Granularity, o.Aligned, o.TradesOnly))
		n, err = feed.PublishCandles(ctx, b, cs)
	} else {
		topic := o.Topic
		if topic == "" {
			topic = feed.Topic(symbol)
		}
		n, err = feed.Publish(ctx, b, topic, s)
	}
	if err != nil {
		return n, pkgerrors.Wrapf(err, "publish %s", o.Input)
	}
	logger.Info(ctx, "published", zap.String("input", o.Input), zap.Int64("messages", n))
	return n, nil
}

// SinkCandles 把文件聚合成 K 线写进 InfluxDB
func (r *Runner) SinkCandles(ctx context.Context, o PublishOptions) (int64, error) {
	if !r.cfg.Influx.Enabled() {
		return 0, xerr.New(xerr.InvalidArgument, "influx: url and bucket must be configured")
	}
	rd, err := dtf.Open(o.Input)
	if err != nil {
		return 0, err
	}
	defer rd.Close()

	sink := export.NewInfluxSink(r.cfg.Influx)
	cs := candle.Aggregate(rd.IterRange(o.Min, o.Max), r.candleOptions(rd.Metadata().Symbol, o.Granularity, o.Aligned, o.TradesOnly))
	n, err := sink.Drain(cs)
	// 写入是异步的，Close 之后才知道有没有失败
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, pkgerrors.Wrapf(err, "influx %s", o.Input)
	}
	logger.Info(ctx, "candles written to influx", zap.String("input", o.Input), zap.Int64("candles", n))
	return n, nil
}

func (r *Runner) candleOptions(symbol string, g time.Duration, aligned, tradesOnly bool) candle.Options {
	return candle.Options{
		Interval:   r.granularity(g),
		Aligned:    aligned,
		TradesOnly: tradesOnly,
		Symbol:     symbol,
	}
}
