package repair

import (
	"path/filepath"
	"strings"
	"time"

	"dtfstore.com/internal/check"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/metrics"
	"dtfstore.com/pkg/xerr"
)

const defaultMaxGaps = 1000

type Options struct {
	GapThreshold time.Duration
	// MaxGaps 报告里最多保留多少条 gap 明细，计数不受影响
	MaxGaps int
	Writer  dtf.Options
}

func (o Options) threshold() time.Duration {
	if o.GapThreshold <= 0 {
		return check.DefaultGapThreshold
	}
	return o.GapThreshold
}

func (o Options) maxGaps() int {
	if o.MaxGaps <= 0 {
		return defaultMaxGaps
	}
	return o.MaxGaps
}

// Report 修复结果
// Gaps 是保留下来没有修的 TimeGap/SequenceGap（属于真实缺数据，不是损坏）
type Report struct {
	Input              int64          `json:"input"`
	Output             int64          `json:"output"`
	DroppedRegressions int64          `json:"dropped_regressions"`
	DroppedDuplicates  int64          `json:"dropped_duplicates"`
	GapCount           int64          `json:"gap_count"`
	Gaps               []check.Defect `json:"gaps,omitempty"`
}

func (r Report) Dropped() int64 { return r.DroppedRegressions + r.DroppedDuplicates }

// Stream 修复后的记录流
//
// 策略按顺序：
//  1. 时间戳小于已见最大时间戳的记录直接丢（从不改写时间戳）
//  2. (seq, ts) 完全重复的丢；seq 与上一条保留记录相同的也按重复丢
//  3. 对保留下来的记录边输出边跑 checker，仍有 TimeRegression/DuplicateSequence 就是 Unrepairable
type Stream struct {
	src  dtf.Stream
	opts Options

	maxTs   int64
	hasMax  bool
	lastSeq uint64
	// 与 maxTs 同一时间戳的 seq，时间戳不递减之后完全重复只可能出现在同一时间戳内
	seen map[uint64]struct{}

	chk     *check.Stream
	defects []check.Defect

	rep Report
	err error
}

func Repair(s dtf.Stream, o Options) *Stream {
	return &Stream{
		src:  s,
		opts: o,
		seen: make(map[uint64]struct{}, 16),
		chk:  check.Check(nil, o.threshold()),
	}
}

// Report 读到 io.EOF 之后才完整
func (r *Stream) Report() Report { return r.rep }

func (r *Stream) Next() (dtf.Update, error) {
	if r.err != nil {
		return dtf.Update{}, r.err
	}
	for {
		u, err := r.src.Next()
		if err != nil {
			r.err = err
			return dtf.Update{}, err
		}
		r.rep.Input++

		if r.hasMax && u.Ts < r.maxTs {
			r.rep.DroppedRegressions++
			metrics.RepairDropped.WithLabelValues("regression").Inc()
			continue
		}
		if r.isDuplicate(u) {
			r.rep.DroppedDuplicates++
			metrics.RepairDropped.WithLabelValues("duplicate").Inc()
			continue
		}

		if !r.hasMax || u.Ts > r.maxTs {
			r.maxTs, r.hasMax = u.Ts, true
			clear(r.seen)
		}
		r.seen[u.Seq] = struct{}{}
		r.lastSeq = u.Seq

		if err := r.verify(u); err != nil {
			r.err = err
			return dtf.Update{}, err
		}
		r.rep.Output++
		return u, nil
	}
}

func (r *Stream) isDuplicate(u dtf.Update) bool {
	if !r.hasMax {
		return false
	}
	if u.Seq == r.lastSeq {
		return true
	}
	if u.Ts == r.maxTs {
		_, ok := r.seen[u.Seq]
		return ok
	}
	return false
}

func (r *Stream) verify(u dtf.Update) error {
	r.defects = r.chk.Observe(u, r.defects[:0])
	for _, d := range r.defects {
		switch d.Kind {
		case check.TimeRegression, check.DuplicateSequence:
			return xerr.Newf(xerr.Unrepairable, "%s remains after repair at output #%d", d.Kind, d.Index)
		case check.TimeGap, check.SequenceGap:
			r.rep.GapCount++
			if len(r.rep.Gaps) < r.opts.maxGaps() {
				r.rep.Gaps = append(r.rep.Gaps, d)
			}
		}
	}
	return nil
}

// Records 内存版：输入全部记录，返回修复后的记录和报告
func Records(recs []dtf.Update, o Options) ([]dtf.Update, Report, error) {
	s := Repair(dtf.NewSliceStream(recs), o)
	out, err := dtf.Collect(s)
	if err != nil {
		return nil, s.Report(), err
	}
	return out, s.Report(), nil
}

// File 读 in，修复后经 codec 写到 out
// 元数据和索引由 Writer 从头计算，失败时 out 被删除
func File(in, out string, o Options) (Report, error) {
	if dtf.SamePath(in, out) {
		return Report{}, xerr.Newf(xerr.InvalidArgument, "repair output must differ from input %s", in)
	}

	r, err := dtf.Open(in)
	if err != nil {
		return Report{}, err
	}
	defer r.Close()

	w, err := dtf.Create(out, r.Metadata().Symbol, o.Writer)
	if err != nil {
		return Report{}, err
	}
	rs := Repair(r.IterAll(), o)
	if err := w.AppendStream(rs); err != nil {
		_ = w.Abort()
		return rs.Report(), xerr.WithPath(err, in)
	}
	if err := w.Close(); err != nil {
		_ = w.Abort()
		return rs.Report(), err
	}
	return rs.Report(), nil
}

// DefaultOutput btc.dtf -> btc-repaired.dtf
func DefaultOutput(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "-repaired" + ext
}
