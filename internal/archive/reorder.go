package archive

import (
	"sort"

	"github.com/JakeFAU/fictionarchiver/internal/crawler"
)

// reorderBuffer restores fetch order for chapters that arrive out of order.
// Chapters older than the next expected sequence are released immediately.
type reorderBuffer struct {
	next    uint64
	pending map[uint64]crawler.Chapter
	resync  bool
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[uint64]crawler.Chapter)}
}

// push accepts one chapter and returns the chapters now ready, in order.
func (b *reorderBuffer) push(ch crawler.Chapter) []crawler.Chapter {
	if b.resync {
		b.next = ch.Seq
		b.resync = false
	}
	if ch.Seq < b.next {
		return []crawler.Chapter{ch}
	}
	b.pending[ch.Seq] = ch
	return b.drain()
}

// skip gives up on the sequences lost to relay lag.
func (b *reorderBuffer) skip() []crawler.Chapter {
	if len(b.pending) == 0 {
		b.resync = true
		return nil
	}
	b.next = b.lowest()
	return b.drain()
}

// flush returns everything still pending, in sequence order.
func (b *reorderBuffer) flush() []crawler.Chapter {
	out := make([]crawler.Chapter, 0, len(b.pending))
	for _, ch := range b.pending {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	b.pending = make(map[uint64]crawler.Chapter)
	return out
}

func (b *reorderBuffer) drain() []crawler.Chapter {
	var out []crawler.Chapter
	for {
		ch, ok := b.pending[b.next]
		if !ok {
			return out
		}
		delete(b.pending, b.next)
		out = append(out, ch)
		b.next++
	}
}

func (b *reorderBuffer) lowest() uint64 {
	first := true
	var low uint64
	for seq := range b.pending {
		if first || seq < low {
			low = seq
			first = false
		}
	}
	return low
}
