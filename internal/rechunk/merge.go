package rechunk

import (
	"container/heap"
	"errors"
	"io"

	"dtfstore.com/pkg/dtf"
)

// head 每个输入流当前的队头
type head struct {
	u   dtf.Update
	src int
}

type headHeap []head

func (h headHeap) Len() int { return len(h) }
func (h headHeap) Less(i, j int) bool {
	if h[i].u.Ts != h[j].u.Ts {
		return h[i].u.Ts < h[j].u.Ts
	}
	// 时间相同按输入顺序，保证结果确定
	return h[i].src < h[j].src
}
func (h headHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *headHeap) Push(x any)   { *h = append(*h, x.(head)) }
func (h *headHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// mergeStream k 路归并，每个输入内部的顺序保持不变
// 输入各自有序时输出整体按时间不递减
type mergeStream struct {
	srcs   []dtf.Stream
	h      headHeap
	primed bool
	err    error
}

// Merge 按时间戳归并多个流；同一时间戳先出排在前面的输入
func Merge(streams ...dtf.Stream) dtf.Stream {
	return &mergeStream{srcs: streams, h: make(headHeap, 0, len(streams))}
}

func (m *mergeStream) pull(i int) error {
	u, err := m.srcs[i].Next()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	heap.Push(&m.h, head{u: u, src: i})
	return nil
}

func (m *mergeStream) Next() (dtf.Update, error) {
	if m.err != nil {
		return dtf.Update{}, m.err
	}
	if !m.primed {
		m.primed = true
		for i := range m.srcs {
			if err := m.pull(i); err != nil {
				m.err = err
				return dtf.Update{}, err
			}
		}
	}
	if m.h.Len() == 0 {
		return dtf.Update{}, io.EOF
	}
	top := heap.Pop(&m.h).(head)
	if err := m.pull(top.src); err != nil {
		m.err = err
		return dtf.Update{}, err
	}
	return top.u, nil
}
