package tools

import (
	"context"
	"fmt"
	"io"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"dtfstore.com/internal/export"
	"dtfstore.com/internal/repair"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/logger"
	"dtfstore.com/pkg/xerr"
)

type RepairOptions struct {
	Input  string
	Output string // 空：<stem>-repaired.dtf
	Format export.Format
}

type repairSummary struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	In       int64  `json:"records_in"`
	Out      int64  `json:"records_out"`
	Regress  int64  `json:"dropped_regressions"`
	Dupes    int64  `json:"dropped_duplicates"`
	GapCount int64  `json:"gaps"`
}

func (s repairSummary) String() string {
	return fmt.Sprintf("%s -> %s: in=%d out=%d dropped_regressions=%d dropped_duplicates=%d gaps=%d",
		s.Input, s.Output, s.In, s.Out, s.Regress, s.Dupes, s.GapCount)
}

func (r *Runner) Repair(ctx context.Context, w io.Writer, o RepairOptions) (repair.Report, error) {
	out := o.Output
	if out == "" {
		out = repair.DefaultOutput(o.Input)
	}
	if dtf.SamePath(o.Input, out) {
		return repair.Report{}, xerr.Newf(xerr.InvalidArgument, "repair: output must differ from input %s", o.Input)
	}

	tmp := tempPath(out)
	rep, err := repair.File(o.Input, tmp, repair.Options{
		GapThreshold: r.cfg.GapThreshold,
		Writer:       r.cfg.writerOptions(),
	})
	if err := commit(tmp, out, err); err != nil {
		if xerr.CodeOf(err) == xerr.Unrepairable {
			logger.Error(ctx, "repair left defects behind", zap.String("input", o.Input), zap.Error(err))
		}
		return rep, pkgerrors.Wrapf(err, "repair %s", o.Input)
	}

	tw := export.NewTextWriter(w, o.Format)
	if err := tw.WriteValue(repairSummary{
		Input: o.Input, Output: out,
		In: rep.Input, Out: rep.Output,
		Regress: rep.DroppedRegressions, Dupes: rep.DroppedDuplicates,
		GapCount: rep.GapCount,
	}); err != nil {
		return rep, err
	}
	logger.Info(ctx, "repair done", zap.String("output", out), zap.Int64("dropped", rep.Dropped()))
	return rep, tw.Flush()
}
