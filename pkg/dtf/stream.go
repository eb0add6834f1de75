package dtf

import (
	"errors"
	"io"
)

// Stream：拉取式记录流，结束时返回 io.EOF
// 每次 Next 最多触发一个 chunk 的解码
type Stream interface {
	Next() (Update, error)
}

// SliceStream 内存切片上的流，测试和小批量数据用
type SliceStream struct {
	recs []Update
	pos  int
}

func NewSliceStream(recs []Update) *SliceStream {
	return &SliceStream{recs: recs}
}

func (s *SliceStream) Next() (Update, error) {
	if s.pos >= len(s.recs) {
		return Update{}, io.EOF
	}
	u := s.recs[s.pos]
	s.pos++
	return u, nil
}

func (s *SliceStream) Reset() { s.pos = 0 }

// Collect 读完整个流，注意内存随记录数增长
func Collect(s Stream) ([]Update, error) {
	var out []Update
	for {
		u, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, u)
	}
}
