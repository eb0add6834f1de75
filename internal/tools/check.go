package tools

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dtfstore.com/internal/check"
	"dtfstore.com/internal/export"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/logger"
	"dtfstore.com/pkg/safe"
)

type CheckOptions struct {
	Inputs    []string
	Threshold time.Duration
	Verbose   bool // 逐条输出问题
	Format    export.Format
}

// FileReport 单个文件的检查结果
type FileReport struct {
	Path string `json:"path"`
	check.Report
	Defects []check.Defect `json:"-"`
}

func (f FileReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: scanned=%d", f.Path, f.Scanned)
	if f.Clean() {
		b.WriteString(" clean")
		return b.String()
	}
	for _, k := range check.Kinds {
		if n := f.Counts[k]; n > 0 {
			fmt.Fprintf(&b, " %s=%d", k, n)
		}
	}
	return b.String()
}

// Check 多个文件并发检查，按输入顺序输出；有问题不算失败，读不了才算
func (r *Runner) Check(ctx context.Context, w io.Writer, o CheckOptions) ([]FileReport, error) {
	threshold := o.Threshold
	if threshold <= 0 {
		threshold = r.cfg.GapThreshold
	}

	reports := make([]FileReport, len(o.Inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range o.Inputs {
		g.Go(func() error {
			return safe.Call(gctx, func() error {
				rep, err := checkFile(p, threshold, o.Verbose)
				if err != nil {
					return pkgerrors.Wrapf(err, "check %s", p)
				}
				reports[i] = rep
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tw := export.NewTextWriter(w, o.Format)
	for _, rep := range reports {
		for _, d := range rep.Defects {
			if err := tw.WriteValue(defectLine{Path: rep.Path, Defect: d}); err != nil {
				return nil, err
			}
		}
		if err := tw.WriteValue(rep); err != nil {
			return nil, err
		}
		if !rep.Clean() {
			logger.Info(ctx, "defects found", zap.String("path", rep.Path), zap.Int64("total", rep.Total()))
		}
	}
	return reports, tw.Flush()
}

func checkFile(path string, threshold time.Duration, verbose bool) (FileReport, error) {
	rd, err := dtf.Open(path)
	if err != nil {
		return FileReport{}, err
	}
	defer rd.Close()

	rep := FileReport{Path: path}
	var fn func(check.Defect)
	if verbose {
		fn = func(d check.Defect) { rep.Defects = append(rep.Defects, d) }
	}
	rep.Report, err = check.Census(rd.IterAll(), threshold, fn)
	return rep, err
}

type defectLine struct {
	Path string `json:"path"`
	check.Defect
}

func (d defectLine) String() string { return d.Path + ": " + d.Defect.String() }
