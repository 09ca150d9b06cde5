package ogg

import (
	"sort"

	"musicmaid/internal/cursor"
	"musicmaid/internal/utils"
)

// Span is a run of packet bytes that is contiguous in the file
type Span struct {
	// Offset is the position of the run within the packet
	Offset  int64
	FilePtr int64
	Length  int64
	// PagePtr is the header offset of the page holding the run
	PagePtr int64
}

// Packet is a reassembled packet together with the file positions of its bytes
type Packet struct {
	Data  []byte
	Spans []Span
}

// span returns the index of the span holding packet offset rel
func (p *Packet) span(rel int64) int {
	i := sort.Search(len(p.Spans), func(i int) bool {
		return p.Spans[i].Offset+p.Spans[i].Length > rel
	})
	if i == len(p.Spans) {
		return len(p.Spans) - 1
	}
	return i
}

// FilePtr maps a packet offset to its file offset. Offsets at or past the
// end of the packet map to the end of the last span.
func (p *Packet) FilePtr(rel int64) int64 {
	if len(p.Spans) == 0 {
		return 0
	}
	s := p.Spans[p.span(rel)]
	if rel > s.Offset+s.Length {
		rel = s.Offset + s.Length
	}
	return s.FilePtr + rel - s.Offset
}

// EndPtr maps the exclusive packet offset end to an exclusive file offset
func (p *Packet) EndPtr(end int64) int64 {
	if end <= 0 {
		return p.FilePtr(0)
	}
	return p.FilePtr(end-1) + 1
}

// PagePtr returns the header offset of the page holding packet offset rel
func (p *Packet) PagePtr(rel int64) int64 {
	if len(p.Spans) == 0 {
		return 0
	}
	return p.Spans[p.span(rel)].PagePtr
}

// Pages returns the header offsets of every page the packet touches, in order
func (p *Packet) Pages() []int64 {
	var pages []int64
	for _, s := range p.Spans {
		if len(pages) == 0 || pages[len(pages)-1] != s.PagePtr {
			pages = append(pages, s.PagePtr)
		}
	}
	return pages
}

// Reader reassembles the packets of the first logical stream in a file.
// Pages of other streams are skipped.
type Reader struct {
	c      *cursor.Cursor
	next   int64
	page   *Page
	seg    int
	segPtr int64
	serial uint32
	pages  []*Page
}

// NewReader starts reading pages at offset
func NewReader(c *cursor.Cursor, offset int64) *Reader {
	return &Reader{c: c, next: offset}
}

// Page returns the page holding the end of the last packet read
func (r *Reader) Page() *Page {
	return r.page
}

// Pages returns every page of the stream read so far
func (r *Reader) Pages() []*Page {
	return r.pages
}

func (r *Reader) nextPage() error {
	for {
		if r.next >= r.c.Size() {
			return utils.NewOffsetError(utils.ErrMalformedBlock, r.next, "stream ends inside a packet")
		}
		page, err := ReadPage(r.c, r.next)
		if err != nil {
			return err
		}
		r.next = page.EndPtr()
		if r.page == nil {
			r.serial = page.Serial
		} else if page.Serial != r.serial {
			continue
		}
		r.page = page
		r.pages = append(r.pages, page)
		r.seg = 0
		r.segPtr = page.DataPtr
		return nil
	}
}

// NextPacket returns the next complete packet
func (r *Reader) NextPacket() (*Packet, error) {
	pkt := &Packet{}
	started := false
	for {
		if r.page == nil || r.seg == len(r.page.Lacing) {
			if err := r.nextPage(); err != nil {
				return nil, err
			}
			if started != r.page.Continued() {
				return nil, utils.NewOffsetError(utils.ErrMalformedBlock, r.page.HeaderPtr,
					"page continuation flag does not match packet state")
			}
		}

		lace := int64(r.page.Lacing[r.seg])
		r.seg++
		if lace > 0 {
			data, err := r.c.ReadAt(r.segPtr, lace)
			if err != nil {
				return nil, err
			}
			last := len(pkt.Spans) - 1
			if last >= 0 && pkt.Spans[last].PagePtr == r.page.HeaderPtr {
				pkt.Spans[last].Length += lace
			} else {
				pkt.Spans = append(pkt.Spans, Span{
					Offset:  int64(len(pkt.Data)),
					FilePtr: r.segPtr,
					Length:  lace,
					PagePtr: r.page.HeaderPtr,
				})
			}
			pkt.Data = append(pkt.Data, data...)
		}
		r.segPtr += lace
		started = true

		if lace < MaxLace {
			return pkt, nil
		}
	}
}
