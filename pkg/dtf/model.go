package dtf

import "fmt"

// Update：一条行情事件（成交或盘口）
// Price/Size 是定点数（Scale=1e8），编解码无损
type Update struct {
	Ts      int64  `json:"ts"`  // 毫秒时间戳
	Seq     uint64 `json:"seq"` // 入库时分配的递增序号
	IsTrade bool   `json:"is_trade"`
	IsBid   bool   `json:"is_bid"` // 只对盘口事件有意义
	Price   int64  `json:"price"`
	Size    int64  `json:"size"`
}

func (u Update) String() string {
	return fmt.Sprintf("ts=%d seq=%d trade=%v bid=%v px=%s sz=%s",
		u.Ts, u.Seq, u.IsTrade, u.IsBid, FormatFixed(u.Price), FormatFixed(u.Size))
}

// Metadata：文件级元数据，全部由 Writer 在写入时算出来
// Count > 0 时 MinTs/MaxTs 是数据的精确边界
type Metadata struct {
	Symbol  string `json:"symbol"`
	Count   uint64 `json:"count"`
	MinTs   int64  `json:"min_ts"`
	MaxTs   int64  `json:"max_ts"`
	Version uint16 `json:"version"`

	// Monotonic：写入时时间戳是否全程不递减，range 查询的二分只在它为 true 时成立
	Monotonic bool `json:"monotonic"`
}

// Overlaps 文件时间范围与 [minTs, maxTs] 是否有交集
func (m Metadata) Overlaps(minTs, maxTs int64) bool {
	if m.Count == 0 {
		return false
	}
	return m.MinTs <= maxTs && m.MaxTs >= minTs
}

// IndexEntry：一个 chunk 的索引项
type IndexEntry struct {
	StartTs int64  `json:"start_ts"` // chunk 第一条记录的时间戳
	Offset  int64  `json:"offset"`   // chunk 在文件中的绝对偏移
	Count   uint32 `json:"count"`
}
