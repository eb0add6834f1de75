package tools

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dtfstore.com/internal/candle"
	"dtfstore.com/internal/export"
	"dtfstore.com/internal/rechunk"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/logger"
	"dtfstore.com/pkg/safe"
	"dtfstore.com/pkg/xerr"
)

type CatOptions struct {
	Input  string
	Output string // 非空：写成新的 dtf 文件

	Symbol   string
	Min, Max int64
	Folder   string
	Meta     bool
	Format   export.Format

	Timebars    bool
	Aligned     bool
	Granularity time.Duration
	TradesOnly  bool
}

// Unbounded 不限时间范围
func (o *CatOptions) Unbounded() {
	o.Min, o.Max = math.MinInt64, math.MaxInt64
}

func (o CatOptions) bounded() bool {
	return o.Min != math.MinInt64 || o.Max != math.MaxInt64
}

func (o CatOptions) validate() error {
	switch {
	case o.Folder == "" && o.Input == "":
		return xerr.New(xerr.InvalidArgument, "cat: need an input file or --folder")
	case o.Folder != "" && o.Symbol == "":
		return xerr.New(xerr.InvalidArgument, "cat: --folder requires --symbol")
	case o.Aligned && !o.Timebars:
		return xerr.New(xerr.InvalidArgument, "cat: --aligned requires --timebars")
	case o.Min > o.Max:
		return xerr.Newf(xerr.InvalidArgument, "cat: --min %d is after --max %d", o.Min, o.Max)
	case o.Output != "" && (o.Timebars || o.Meta):
		return xerr.New(xerr.InvalidArgument, "cat: -o writes records only, drop --timebars/--meta")
	}
	return nil
}

// source 一次 cat 要读的文件
type source struct {
	symbol  string
	paths   []string
	metas   []dtf.Metadata
	readers []*dtf.Reader
}

func (s *source) close() {
	for _, r := range s.readers {
		_ = r.Close()
	}
}

// stream 多个文件按时间戳归并
func (s *source) stream(minTs, maxTs int64, bounded bool) dtf.Stream {
	streams := make([]dtf.Stream, len(s.readers))
	for i, r := range s.readers {
		if bounded {
			streams[i] = r.IterRange(minTs, maxTs)
		} else {
			streams[i] = r.IterAll()
		}
	}
	if len(streams) == 1 {
		return streams[0]
	}
	return rechunk.Merge(streams...)
}

func (r *Runner) Cat(ctx context.Context, w io.Writer, o CatOptions) error {
	if err := o.validate(); err != nil {
		return err
	}
	src, err := r.openSource(ctx, o)
	if err != nil {
		return err
	}
	defer src.close()

	if o.Output != "" {
		return r.catToFile(ctx, src, o)
	}

	tw := export.NewTextWriter(w, o.Format)
	if o.Meta {
		for i, p := range src.paths {
			if err := tw.WriteMetadata(p, src.metas[i]); err != nil {
				return err
			}
		}
		return tw.Flush()
	}

	s := src.stream(o.Min, o.Max, o.bounded())
	if o.Timebars {
		cs := candle.Aggregate(s, r.candleOptions(src.symbol, o.Granularity, o.Aligned, o.TradesOnly))
		if err := drainCandles(cs, tw.WriteCandle); err != nil {
			return pkgerrors.Wrapf(err, "cat %s", o.Input)
		}
		if n := cs.LateDrops(); n > 0 {
			logger.Warn(ctx, "late records dropped", zap.Int64("count", n))
		}
		return tw.Flush()
	}

	for {
		u, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "cat %s", o.Input)
		}
		if err := tw.WriteUpdate(u); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func (r *Runner) catToFile(ctx context.Context, src *source, o CatOptions) error {
	for _, p := range src.paths {
		if dtf.SamePath(p, o.Output) {
			return xerr.Newf(xerr.InvalidArgument, "cat: output %s is also an input", o.Output)
		}
	}
	tmp := tempPath(o.Output)
	meta, err := dtf.WriteFile(tmp, src.symbol, src.stream(o.Min, o.Max, o.bounded()), r.cfg.writerOptions())
	if err := commit(tmp, o.Output, err); err != nil {
		return pkgerrors.Wrapf(err, "cat -o %s", o.Output)
	}
	logger.Info(ctx, "records written",
		zap.String("path", o.Output),
		zap.Uint64("count", meta.Count),
		zap.Int64("min_ts", meta.MinTs),
		zap.Int64("max_ts", meta.MaxTs),
	)
	return nil
}

func (r *Runner) openSource(ctx context.Context, o CatOptions) (*source, error) {
	if o.Folder != "" {
		return r.scanFolder(ctx, o.Folder, o.Symbol, o.Min, o.Max)
	}
	rd, err := dtf.Open(o.Input)
	if err != nil {
		return nil, err
	}
	m := rd.Metadata()
	if o.Symbol != "" && o.Symbol != m.Symbol {
		_ = rd.Close()
		return nil, &xerr.CodeError{
			Code:   xerr.SymbolMismatch,
			Msg:    "file holds " + m.Symbol + ", asked for " + o.Symbol,
			Path:   o.Input,
			Offset: -1,
		}
	}
	return &source{symbol: m.Symbol, paths: []string{o.Input}, metas: []dtf.Metadata{m}, readers: []*dtf.Reader{rd}}, nil
}

// scanFolder 并发读目录下所有 dtf 的 header，挑出 symbol 相同且时间范围有交集的
func (r *Runner) scanFolder(ctx context.Context, dir, symbol string, minTs, maxTs int64) (*source, error) {
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, xerr.Newf(xerr.NotFound, "folder %s does not exist", dir)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.dtf"))
	if err != nil {
		return nil, err
	}

	metas := make([]dtf.Metadata, len(paths))
	ok := make([]bool, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			return safe.Call(gctx, func() error {
				rd, err := dtf.Open(p)
				if err != nil {
					// 目录里可能有正在写或者坏掉的文件，跳过
					logger.Warn(gctx, "skip unreadable file", zap.String("path", p), zap.Error(err))
					return nil
				}
				metas[i], ok[i] = rd.Metadata(), true
				return rd.Close()
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	src := &source{symbol: symbol}
	for i, p := range paths {
		if !ok[i] || metas[i].Symbol != symbol || !metas[i].Overlaps(minTs, maxTs) {
			continue
		}
		rd, err := dtf.Open(p)
		if err != nil {
			src.close()
			return nil, err
		}
		src.paths = append(src.paths, p)
		src.metas = append(src.metas, metas[i])
		src.readers = append(src.readers, rd)
	}
	if len(src.readers) == 0 {
		return nil, xerr.Newf(xerr.NotFound, "no %s files in %s overlap [%d, %d]", symbol, dir, minTs, maxTs)
	}
	logger.Debug(ctx, "folder scanned", zap.String("dir", dir), zap.Int("files", len(paths)), zap.Int("matched", len(src.paths)))
	return src, nil
}

func (r *Runner) granularity(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if r.cfg.Granularity > 0 {
		return r.cfg.Granularity
	}
	return time.Minute
}

func drainCandles(cs *candle.Stream, fn func(candle.Candle) error) error {
	for {
		c, err := cs.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}
