package tools

import (
	"context"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"dtfstore.com/internal/candle"
	"dtfstore.com/internal/export"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/logger"
	"dtfstore.com/pkg/xerr"
)

// NumpyOptions 列式导出（parquet），可选先聚合成 K 线
type NumpyOptions struct {
	Input      string
	Output     string
	Compressed bool

	Timebars    bool
	Aligned     bool
	Granularity time.Duration
	TradesOnly  bool
}

func (r *Runner) Numpy(ctx context.Context, o NumpyOptions) (int64, error) {
	if o.Output == "" {
		return 0, xerr.New(xerr.InvalidArgument, "numpy: -o output is required")
	}
	if o.Aligned && !o.Timebars {
		return 0, xerr.New(xerr.InvalidArgument, "numpy: --aligned requires --timebars")
	}
	rd, err := dtf.Open(o.Input)
	if err != nil {
		return 0, err
	}
	defer rd.Close()

	tmp := tempPath(o.Output)
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	var n int64
	if o.Timebars {
		cs := candle.Aggregate(rd.IterAll(), r.candleOptions(rd.Metadata().Symbol, o.Granularity, o.Aligned, o.TradesOnly))
		n, err = export.WriteCandlesParquet(f, cs, o.Compressed)
	} else {
		n, err = export.WriteParquet(f, rd.IterAll(), o.Compressed)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err := commit(tmp, o.Output, err); err != nil {
		return 0, pkgerrors.Wrapf(err, "numpy %s", o.Input)
	}
	logger.Info(ctx, "parquet written", zap.String("path", o.Output), zap.Int64("rows", n), zap.Bool("zstd", o.Compressed))
	return n, nil
}
