package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConf struct {
	BatchSize    int           `mapstructure:"batch_size"`
	GapThreshold time.Duration `mapstructure:"gap_threshold"`
	Upload       struct {
		Bucket string `mapstructure:"bucket-name"`
		Folder string `mapstructure:"folder"`
	} `mapstructure:"upload"`
}

func TestLoad_FileDefaultsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dtf.yaml")
	body := "gap_threshold: 90s\nupload:\n  bucket-name: ticks\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("DTF_UPLOAD_FOLDER", "binance")

	var c testConf
	_, err := Load("dtf", path, map[string]any{
		"batch_size":    2048,
		"upload.folder": "",
	}, &c)
	require.NoError(t, err)

	assert.Equal(t, 2048, c.BatchSize)
	assert.Equal(t, 90*time.Second, c.GapThreshold)
	assert.Equal(t, "ticks", c.Upload.Bucket)
	assert.Equal(t, "binance", c.Upload.Folder)
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConf
	_, err := Load("dtf", filepath.Join(t.TempDir(), "nope.yaml"), nil, &c)
	assert.Error(t, err)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	var c testConf
	_, err := Load("dtf", "", map[string]any{"batch_size": 16}, &c)
	require.NoError(t, err)
	assert.Equal(t, 16, c.BatchSize)
}
