package export

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"dtfstore.com/internal/candle"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/logger"
	"dtfstore.com/pkg/safe"
)

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`

	// 写入优化项
	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	UseGzip       bool          `mapstructure:"use_gzip"`
}

func (c InfluxConfig) Enabled() bool { return c.URL != "" && c.Bucket != "" }

// InfluxSink 把 K 线写进 InfluxDB（measurement=candle，tags=symbol/interval）
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPI

	// 异步写入的失败，由 consume 记录，Close 时汇总返回
	mu     sync.Mutex
	failed int64
	first  error
	done   chan struct{}
}

func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	s := &InfluxSink{client: c, write: w, done: make(chan struct{})}
	// 必须消费 Errors()，否则异步写入出错时会阻塞；client.Close 会关掉这个 channel
	errs := w.Errors()
	safe.Go(context.Background(), func() { s.consume(errs) })
	return s
}

func (s *InfluxSink) consume(errs <-chan error) {
	defer close(s.done)
	for err := range errs {
		logger.Warn(context.Background(), "influx write error", zap.Error(err))
		s.mu.Lock()
		if s.first == nil {
			s.first = err
		}
		s.failed++
		s.mu.Unlock()
	}
}

// wait 等 consume 退出，有失败就返回第一条错误
func (s *InfluxSink) wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == 0 {
		return nil
	}
	return pkgerrors.Wrapf(s.first, "influx: %d writes failed", s.failed)
}

// CandlePoint K 线转成 influx point
func CandlePoint(c candle.Candle) *write.Point {
	tags := map[string]string{
		"symbol":   c.Symbol,
		"interval": candle.TF(c.Interval),
	}
	fields := map[string]interface{}{
		"o": dtf.Float(c.Open),
		"h": dtf.Float(c.High),
		"l": dtf.Float(c.Low),
		"c": dtf.Float(c.Close),
		"v": dtf.Float(c.Volume),
		"n": c.TradeCount,
	}
	return write.NewPoint("candle", tags, fields, time.UnixMilli(c.Start).UTC())
}

func (s *InfluxSink) WriteCandle(c candle.Candle) {
	s.write.WritePoint(CandlePoint(c))
}

// Drain 读完 K 线流并写入，返回写入条数
func (s *InfluxSink) Drain(cs *candle.Stream) (int64, error) {
	var n int64
	for {
		c, err := cs.Next()
		if errors.Is(err, io.EOF) {
			s.write.Flush()
			return n, nil
		}
		if err != nil {
			return n, err
		}
		s.WriteCandle(c)
		n++
	}
}

// Close 会 flush buffer；返回期间所有异步写入的失败
func (s *InfluxSink) Close() error {
	s.client.Close()
	return s.wait()
}
