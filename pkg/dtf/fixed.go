package dtf

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale：价格/数量的定点倍率（1e8 = 8位小数）
// 比较和累加都在 int64 上做，避免浮点误差
const Scale = int64(100_000_000)

const scaleExp = 8

// ParseFixed 把十进制字符串转成定点数，超过 8 位的小数截断
func ParseFixed(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("dtf: parse fixed %q: %w", s, err)
	}
	return d.Shift(scaleExp).IntPart(), nil
}

// FormatFixed 定点数转字符串，固定 8 位小数
func FormatFixed(v int64) string {
	return Decimal(v).StringFixed(scaleExp)
}

// Decimal 定点数转 decimal，文本输出用
func Decimal(v int64) decimal.Decimal {
	return decimal.New(v, -scaleExp)
}

// Float 列式导出用，有精度损失
func Float(v int64) float64 {
	return float64(v) / float64(Scale)
}
