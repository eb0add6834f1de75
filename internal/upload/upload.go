package upload

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dtfstore.com/pkg/config"
	"dtfstore.com/pkg/dtf"
	"dtfstore.com/pkg/xerr"
)

const DefaultInterval = 3600 // 秒

// Config 上传插件（gstorage）的配置；调度不在这里
type Config struct {
	Bucket   string `mapstructure:"bucket-name"`
	Folder   string `mapstructure:"folder"`
	Interval int    `mapstructure:"interval"` // 秒
	OAuth    string `mapstructure:"oauth"`
}

func (c Config) Period() time.Duration { return time.Duration(c.Interval) * time.Second }

func (c Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return xerr.New(xerr.InvalidArgument, "upload: bucket-name is required")
	}
	if c.Interval <= 0 {
		return xerr.Newf(xerr.InvalidArgument, "upload: interval must be positive, got %d", c.Interval)
	}
	return nil
}

// Load 读上传配置文件，UPLOAD_ 前缀的环境变量可以覆盖
func Load(path string) (Config, error) {
	var c Config
	_, err := config.Load("upload", path, map[string]any{
		"folder":   "",
		"interval": DefaultInterval,
	}, &c)
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Completed 列出 dir 下可以上传的 dtf 文件：
// 已正常关闭（索引写完），且至少 minAge 没有再修改过
// 写到一半的 .tmp 和损坏文件直接跳过
func Completed(dir string, minAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerr.Wrap(xerr.NotFound, dir, err)
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".dtf" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < minAge {
			continue
		}
		p := filepath.Join(dir, name)
		if !closed(p) {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func closed(path string) bool {
	r, err := dtf.Open(path)
	if err != nil {
		return false
	}
	_ = r.Close()
	return true
}
