package check

import (
	"errors"
	"io"
	"testing"
	"time"

	"dtfstore.com/pkg/dtf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upd(ts int64, seq uint64) dtf.Update { return dtf.Update{Ts: ts, Seq: seq} }

func collect(t *testing.T, recs []dtf.Update, threshold time.Duration) []Defect {
	t.Helper()
	c := Check(dtf.NewSliceStream(recs), threshold)
	var out []Defect
	for {
		d, err := c.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, d)
	}
}

func TestCheck_SequenceGap(t *testing.T) {
	recs := []dtf.Update{upd(1000, 1), upd(2000, 2), upd(3000, 4), upd(4000, 5)}
	ds := collect(t, recs, DefaultGapThreshold)
	require.Len(t, ds, 1)
	assert.Equal(t, SequenceGap, ds[0].Kind)
	assert.Equal(t, int64(2), ds[0].Index)
	assert.Equal(t, uint64(2), ds[0].Prev.Seq)
	assert.Equal(t, uint64(4), ds[0].Cur.Seq)
}

func TestCheck_Kinds(t *testing.T) {
	cases := []struct {
		name string
		recs []dtf.Update
		want []Kind
	}{
		{"clean", []dtf.Update{upd(1, 1), upd(1, 2), upd(2, 3)}, nil},
		{"time_gap", []dtf.Update{upd(0, 1), upd(60_001, 2)}, []Kind{TimeGap}},
		{"gap_at_threshold_is_ok", []dtf.Update{upd(0, 1), upd(60_000, 2)}, nil},
		{"time_regression", []dtf.Update{upd(5000, 1), upd(4000, 2)}, []Kind{TimeRegression}},
		{"duplicate_sequence", []dtf.Update{upd(1, 7), upd(2, 7)}, []Kind{DuplicateSequence}},
		{"sequence_regression", []dtf.Update{upd(1, 7), upd(2, 3)}, []Kind{SequenceRegression}},
		{"both_on_one_transition", []dtf.Update{upd(100_000, 1), upd(1, 1)}, []Kind{TimeRegression, DuplicateSequence}},
		{"gap_and_seq_gap", []dtf.Update{upd(0, 1), upd(120_000, 9)}, []Kind{TimeGap, SequenceGap}},
		{"single_record", []dtf.Update{upd(1, 1)}, nil},
		{"empty", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ds := collect(t, tc.recs, time.Minute)
			var got []Kind
			for _, d := range ds {
				got = append(got, d.Kind)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCheck_ContinuesAfterDefects(t *testing.T) {
	// 检查器从不中断，每个问题都要报出来
	recs := []dtf.Update{upd(10, 1), upd(5, 2), upd(6, 2), upd(7, 5), upd(1, 4)}
	ds := collect(t, recs, time.Hour)
	var kinds []Kind
	var idx []int64
	for _, d := range ds {
		kinds = append(kinds, d.Kind)
		idx = append(idx, d.Index)
	}
	assert.Equal(t, []Kind{TimeRegression, DuplicateSequence, SequenceGap, TimeRegression, SequenceRegression}, kinds)
	assert.Equal(t, []int64{1, 2, 3, 4, 4}, idx)
}

type errStream struct{ n int }

func (e *errStream) Next() (dtf.Update, error) {
	if e.n == 0 {
		return dtf.Update{}, errors.New("disk on fire")
	}
	e.n--
	return upd(int64(e.n), uint64(10-e.n)), nil
}

func TestCensus(t *testing.T) {
	recs := []dtf.Update{upd(1000, 1), upd(2000, 2), upd(3000, 4), upd(2500, 5), upd(9_000_000, 6)}
	var seen []Defect
	rep, err := Census(dtf.NewSliceStream(recs), time.Minute, func(d Defect) { seen = append(seen, d) })
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.Scanned)
	assert.Equal(t, int64(1), rep.Counts[SequenceGap])
	assert.Equal(t, int64(1), rep.Counts[TimeRegression])
	assert.Equal(t, int64(1), rep.Counts[TimeGap])
	assert.Equal(t, int64(3), rep.Total())
	assert.False(t, rep.Clean())
	assert.Len(t, seen, 3)

	t.Run("io_error_propagates", func(t *testing.T) {
		_, err := Census(&errStream{n: 3}, time.Minute, nil)
		assert.EqualError(t, err, "disk on fire")
	})
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "sequence_gap", SequenceGap.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
	assert.Contains(t, Defect{Kind: TimeGap, Index: 3, Prev: upd(0, 1), Cur: upd(90_000, 2)}.String(), "+90000ms")
}
