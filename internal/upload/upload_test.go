package upload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/xerr"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gstorage.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c, err := Load(writeConf(t, "bucket-name: ticks\n"))
		require.NoError(t, err)
		assert.Equal(t, Config{Bucket: "ticks", Interval: DefaultInterval}, c)
		assert.Equal(t, time.Hour, c.Period())
	})

	t.Run("all_keys", func(t *testing.T) {
		c, err := Load(writeConf(t, "bucket-name: ticks\nfolder: raw/2024\ninterval: 600\noauth: tok\n"))
		require.NoError(t, err)
		assert.Equal(t, Config{Bucket: "ticks", Folder: "raw/2024", Interval: 600, OAuth: "tok"}, c)
	})

	t.Run("missing_bucket", func(t *testing.T) {
		_, err := Load(writeConf(t, "folder: x\n"))
		assert.ErrorIs(t, err, xerr.ErrInvalidArgument)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestCompleted(t *testing.T) {
	dir := t.TempDir()
	recs := []dtf.Update{{Ts: 1, Seq: 1, IsTrade: true, Price: dtf.Scale, Size: dtf.Scale}}

	_, err := dtf.WriteFile(filepath.Join(dir, "a.dtf"), "BTC-USDT", dtf.NewSliceStream(recs), dtf.Options{})
	require.NoError(t, err)
	_, err = dtf.WriteFile(filepath.Join(dir, "b.dtf"), "ETH-USDT", dtf.NewSliceStream(recs), dtf.Options{})
	require.NoError(t, err)

	// 还在写的文件：头部占位，索引没写
	w, err := dtf.Create(filepath.Join(dir, "open.dtf"), "SOL-USDT", dtf.Options{})
	require.NoError(t, err)
	defer w.Abort()
	require.NoError(t, w.Append(recs[0]))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.dtf.tmp"), []byte("DTF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.dtf"), []byte("not a dtf file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	now := time.Now()
	got, err := Completed(dir, 0, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.dtf"), filepath.Join(dir, "b.dtf")}, got)

	// 刚改过的文件要等 minAge
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "a.dtf"), old, old))
	got, err = Completed(dir, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.dtf")}, got)

	_, err = Completed(filepath.Join(dir, "missing"), 0, now)
	assert.ErrorIs(t, err, xerr.ErrNotFound)
}
