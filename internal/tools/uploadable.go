package tools

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"dtfstore.com/internal/upload"
	"dtfstore.com/pkg/logger"
)

type UploadableOptions struct {
	Dir    string
	MinAge time.Duration
	// 上传插件自己的配置文件（gstorage.yaml）；空则用主配置的 upload 段
	ConfigPath string
}

// Uploadable 列出 dir 下已经写完、可以交给上传插件的文件
func (r *Runner) Uploadable(ctx context.Context, w io.Writer, o UploadableOptions) ([]string, error) {
	uc := r.cfg.Upload
	if o.ConfigPath != "" {
		c, err := upload.Load(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		uc = c
	} else if err := uc.Validate(); err != nil {
		return nil, err
	}

	files, err := upload.Completed(o.Dir, o.MinAge, time.Now())
	if err != nil {
		return nil, err
	}
	for _, p := range files {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return files, err
		}
	}
	logger.Debug(ctx, "completed files",
		zap.String("dir", o.Dir),
		zap.String("bucket", uc.Bucket),
		zap.String("folder", uc.Folder),
		zap.Int("files", len(files)),
	)
	return files, nil
}
