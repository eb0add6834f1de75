package check

import (
	"errors"
	"fmt"
	"io"
	"time"

	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/metrics"
)

// DefaultGapThreshold 相邻两条记录超过这个间隔算 TimeGap
const DefaultGapThreshold = 60 * time.Second

type Kind uint8

const (
	TimeGap Kind = iota + 1
	TimeRegression
	SequenceGap
	SequenceRegression
	DuplicateSequence
)

var kindNames = map[Kind]string{
	TimeGap:            "time_gap",
	TimeRegression:     "time_regression",
	SequenceGap:        "sequence_gap",
	SequenceRegression: "sequence_regression",
	DuplicateSequence:  "duplicate_sequence",
}

// Kinds 按输出顺序排列
var Kinds = []Kind{TimeGap, TimeRegression, SequenceGap, SequenceRegression, DuplicateSequence}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Defect 在 Index 处（Cur 的下标）检测到的问题，Prev 是它前一条记录
type Defect struct {
	Kind  Kind       `json:"kind"`
	Index int64      `json:"index"`
	Prev  dtf.Update `json:"prev"`
	Cur   dtf.Update `json:"cur"`
}

func (d Defect) String() string {
	switch d.Kind {
	case TimeGap, TimeRegression:
		return fmt.Sprintf("%s at #%d: ts %d -> %d (%+dms)", d.Kind, d.Index, d.Prev.Ts, d.Cur.Ts, d.Cur.Ts-d.Prev.Ts)
	default:
		return fmt.Sprintf("%s at #%d: seq %d -> %d", d.Kind, d.Index, d.Prev.Seq, d.Cur.Seq)
	}
}

// Stream 拉取式检查：数据问题只作为 Defect 输出，从不中断；
// 只有底层读取/解码错误才会返回 error
type Stream struct {
	src         dtf.Stream
	thresholdMs int64

	idx     int64
	prev    dtf.Update
	hasPrev bool

	pending []Defect
	err     error
}

func Check(s dtf.Stream, threshold time.Duration) *Stream {
	return &Stream{src: s, thresholdMs: threshold.Milliseconds()}
}

func (c *Stream) Next() (Defect, error) {
	for len(c.pending) == 0 {
		if c.err != nil {
			return Defect{}, c.err
		}
		u, err := c.src.Next()
		if err != nil {
			c.err = err
			continue
		}
		c.pending = c.Observe(u, c.pending)
	}
	d := c.pending[0]
	c.pending = c.pending[1:]
	return d, nil
}

// Observe 喂入下一条记录，把检测到的问题追加到 dst
// 不经过 src 的场景（比如 repair 一边写一边校验）直接用它
func (c *Stream) Observe(u dtf.Update, dst []Defect) []Defect {
	idx := c.idx
	c.idx++
	if !c.hasPrev {
		c.prev, c.hasPrev = u, true
		return dst
	}
	p := c.prev
	c.prev = u

	add := func(k Kind) {
		metrics.DefectsTotal.WithLabelValues(k.String()).Inc()
		dst = append(dst, Defect{Kind: k, Index: idx, Prev: p, Cur: u})
	}

	switch {
	case u.Ts < p.Ts:
		add(TimeRegression)
	case u.Ts-p.Ts > c.thresholdMs:
		add(TimeGap)
	}
	switch {
	case u.Seq == p.Seq:
		add(DuplicateSequence)
	case u.Seq < p.Seq:
		add(SequenceRegression)
	case u.Seq-p.Seq > 1:
		add(SequenceGap)
	}
	return dst
}

// Scanned 已检查的记录数
func (c *Stream) Scanned() int64 { return c.idx }

// Report 全量统计
type Report struct {
	Scanned int64          `json:"scanned"`
	Counts  map[Kind]int64 `json:"counts"`
}

func (r Report) Total() int64 {
	var n int64
	for _, v := range r.Counts {
		n += v
	}
	return n
}

func (r Report) Clean() bool { return r.Total() == 0 }

// Census 读完整个流，只统计各类问题的数量；fn 非空时逐条回调
func Census(s dtf.Stream, threshold time.Duration, fn func(Defect)) (Report, error) {
	c := Check(s, threshold)
	rep := Report{Counts: make(map[Kind]int64, len(Kinds))}
	for {
		d, err := c.Next()
		if errors.Is(err, io.EOF) {
			rep.Scanned = c.Scanned()
			return rep, nil
		}
		if err != nil {
			rep.Scanned = c.Scanned()
			return rep, err
		}
		rep.Counts[d.Kind]++
		if fn != nil {
			fn(d)
		}
	}
}
