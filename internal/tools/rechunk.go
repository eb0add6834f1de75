package tools

import (
	"context"
	"fmt"
	"io"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"dtfstore.com/internal/rechunk"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/logger"
	"dtfstore.com/pkg/xerr"
)

// Split 按条数切分，输出文件名逐行写到 w
func (r *Runner) Split(ctx context.Context, w io.Writer, in string, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		batchSize = r.cfg.BatchSize
	}
	outs, err := rechunk.Split(in, batchSize, rechunk.DefaultNamer(in), r.cfg.writerOptions())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "split %s", in)
	}
	for _, p := range outs {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return outs, err
		}
	}
	logger.Info(ctx, "split done", zap.String("input", in), zap.Int("files", len(outs)), zap.Int("batch_size", batchSize))
	return outs, nil
}

// Concat 归并写到临时文件，成功后再改名为 out
func (r *Runner) Concat(ctx context.Context, out string, inputs ...string) (dtf.Metadata, error) {
	if len(inputs) < 2 {
		return dtf.Metadata{}, xerr.New(xerr.InvalidArgument, "concat: need at least two inputs")
	}
	for _, p := range inputs {
		if dtf.SamePath(p, out) {
			return dtf.Metadata{}, xerr.Newf(xerr.InvalidArgument, "concat: output %s is also an input", out)
		}
	}
	tmp := tempPath(out)
	meta, err := rechunk.Concat(tmp, inputs, r.cfg.writerOptions())
	if err := commit(tmp, out, err); err != nil {
		return dtf.Metadata{}, pkgerrors.Wrapf(err, "concat into %s", out)
	}
	logger.Info(ctx, "concat done",
		zap.String("output", out),
		zap.Strings("inputs", inputs),
		zap.Uint64("count", meta.Count),
	)
	return meta, nil
}
