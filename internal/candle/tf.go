package candle

import (
	"fmt"
	"time"
)

// TF 把周期归一化成 topic/tag 里用的 timeframe 字符串：1s/1m/1h/1d，其余取整分钟/整秒
func TF(d time.Duration) string {
	switch d {
	case time.Second:
		return "1s"
	case time.Minute:
		return "1m"
	case time.Hour:
		return "1h"
	case 24 * time.Hour:
		return "1d"
	}
	if d > 0 && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	}
	if d > 0 && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	if d > 0 {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return ""
}
