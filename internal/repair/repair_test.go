package repair

import (
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"dtfstore.com/internal/check"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upd(ts int64, seq uint64) dtf.Update {
	return dtf.Update{Ts: ts, Seq: seq, IsTrade: true, Price: dtf.Scale, Size: dtf.Scale}
}

func TestRecords_Policy(t *testing.T) {
	cases := []struct {
		name    string
		in      []dtf.Update
		want    []dtf.Update
		regress int64
		dups    int64
	}{
		{
			name: "clean_passthrough",
			in:   []dtf.Update{upd(1, 1), upd(2, 2), upd(2, 3)},
			want: []dtf.Update{upd(1, 1), upd(2, 2), upd(2, 3)},
		},
		{
			name:    "drop_below_running_max",
			in:      []dtf.Update{upd(10, 1), upd(30, 2), upd(20, 3), upd(25, 4), upd(30, 5), upd(40, 6)},
			want:    []dtf.Update{upd(10, 1), upd(30, 2), upd(30, 5), upd(40, 6)},
			regress: 2,
		},
		{
			name: "exact_duplicates",
			in:   []dtf.Update{upd(10, 1), upd(10, 1), upd(10, 2), upd(10, 1), upd(11, 3)},
			want: []dtf.Update{upd(10, 1), upd(10, 2), upd(11, 3)},
			dups: 2,
		},
		{
			name: "repeated_seq_new_ts",
			in:   []dtf.Update{upd(10, 5), upd(12, 5), upd(13, 6)},
			want: []dtf.Update{upd(10, 5), upd(13, 6)},
			dups: 1,
		},
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, rep, err := Records(tc.in, Options{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, int64(len(tc.in)), rep.Input)
			assert.Equal(t, int64(len(tc.want)), rep.Output)
			assert.Equal(t, tc.regress, rep.DroppedRegressions)
			assert.Equal(t, tc.dups, rep.DroppedDuplicates)
			assert.Equal(t, rep.Input-rep.Output, rep.Dropped())
		})
	}
}

func TestRecords_GapsKeptAndReported(t *testing.T) {
	in := []dtf.Update{upd(0, 1), upd(1000, 2), upd(1000+2*60_000, 3), upd(1000+2*60_000+1, 7)}
	got, rep, err := Records(in, Options{GapThreshold: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.Equal(t, int64(2), rep.GapCount)
	require.Len(t, rep.Gaps, 2)
	assert.Equal(t, check.TimeGap, rep.Gaps[0].Kind)
	assert.Equal(t, check.SequenceGap, rep.Gaps[1].Kind)

	_, rep, err = Records(in, Options{GapThreshold: time.Minute, MaxGaps: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.GapCount)
	assert.Len(t, rep.Gaps, 1)
}

func messy(rng *rand.Rand, n int) []dtf.Update {
	out := make([]dtf.Update, 0, n)
	ts := int64(1_700_000_000_000)
	seq := uint64(1)
	for i := 0; i < n; i++ {
		switch rng.IntN(10) {
		case 0: // 时间回退
			out = append(out, upd(ts-int64(rng.IntN(5000)+1), seq))
		case 1: // 完全重复
			if len(out) > 0 {
				out = append(out, out[len(out)-1])
				continue
			}
		case 2: // 序号跳跃
			seq += uint64(rng.IntN(5) + 1)
		}
		ts += int64(rng.IntN(2000))
		out = append(out, upd(ts, seq))
		seq++
	}
	return out
}

func TestRecords_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 5))
	for round := 0; round < 20; round++ {
		in := messy(rng, 500)
		once, rep1, err := Records(in, Options{})
		require.NoError(t, err)
		twice, rep2, err := Records(once, Options{})
		require.NoError(t, err)

		assert.Equal(t, once, twice)
		assert.Zero(t, rep2.Dropped())
		assert.Equal(t, rep1.GapCount, rep2.GapCount)

		// 修复结果必须干净：没有回退、没有重复序号
		census, err := check.Census(dtf.NewSliceStream(once), check.DefaultGapThreshold, nil)
		require.NoError(t, err)
		assert.Zero(t, census.Counts[check.TimeRegression])
		assert.Zero(t, census.Counts[check.DuplicateSequence])
	}
}

func TestVerify_Unrepairable(t *testing.T) {
	r := Repair(dtf.NewSliceStream(nil), Options{})
	r.chk.Observe(upd(100, 1), nil)
	err := r.verify(upd(50, 2))
	assert.ErrorIs(t, err, xerr.ErrUnrepairable)
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "btc.dtf")
	src := []dtf.Update{upd(10, 1), upd(30, 2), upd(20, 3), upd(30, 2), upd(40, 4)}
	_, err := dtf.WriteFile(in, "BTC-USDT", dtf.NewSliceStream(src), dtf.Options{BatchSize: 2})
	require.NoError(t, err)

	out := DefaultOutput(in)
	assert.Equal(t, filepath.Join(dir, "btc-repaired.dtf"), out)

	rep, err := File(in, out, Options{Writer: dtf.Options{BatchSize: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.Input)
	assert.Equal(t, int64(3), rep.Output)

	r, err := dtf.Open(out)
	require.NoError(t, err)
	defer r.Close()
	meta := r.Metadata()
	assert.Equal(t, "BTC-USDT", meta.Symbol)
	assert.Equal(t, uint64(3), meta.Count)
	assert.Equal(t, int64(10), meta.MinTs)
	assert.Equal(t, int64(40), meta.MaxTs)
	assert.True(t, meta.Monotonic)

	got, err := dtf.Collect(r.IterAll())
	require.NoError(t, err)
	assert.Equal(t, []dtf.Update{upd(10, 1), upd(30, 2), upd(40, 4)}, got)

	t.Run("same_path_rejected", func(t *testing.T) {
		_, err := File(in, in, Options{})
		assert.ErrorIs(t, err, xerr.ErrInvalidArgument)
	})

	t.Run("missing_input", func(t *testing.T) {
		_, err := File(filepath.Join(dir, "nope.dtf"), filepath.Join(dir, "o.dtf"), Options{})
		assert.ErrorIs(t, err, xerr.ErrNotFound)
		assert.NoFileExists(t, filepath.Join(dir, "o.dtf"))
	})
}
