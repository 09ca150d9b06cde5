package ogg

import (
	"bytes"
	"encoding/binary"

	"musicmaid/internal/cursor"
)

// noGranule marks a page on which no packet ends
const noGranule = ^uint64(0)

// IsOgg reports whether c starts with a page capture pattern
func IsOgg(c *cursor.Cursor) bool {
	marker, err := c.ReadAt(0, int64(len(Capture)))
	return err == nil && bytes.Equal(marker, Capture)
}

// Paginate lays header packets out on fresh pages of one stream, numbered
// from sequence. Packets follow each other without page breaks; the last
// page is flushed when the packets end. Pages on which a packet ends carry
// granule position zero.
func Paginate(serial, sequence uint32, packets [][]byte) [][]byte {
	var pages [][]byte
	var lacing, body []byte
	continued, ended := false, false

	flush := func() {
		var flags byte
		if continued {
			flags = FlagContinued
		}
		granule := noGranule
		if ended {
			granule = 0
		}
		pages = append(pages, EncodePage(flags, granule, serial, sequence, lacing, body))
		sequence++
		lacing, body, ended = nil, nil, false
	}

	for _, pkt := range packets {
		rest := pkt
		for {
			n := len(rest)
			if n > MaxLace {
				n = MaxLace
			}
			lacing = append(lacing, byte(n))
			body = append(body, rest[:n]...)
			rest = rest[n:]
			done := n < MaxLace
			if done {
				ended = true
			}
			if len(lacing) == MaxSegments {
				flush()
				continued = !done
			}
			if done {
				break
			}
		}
	}
	if len(lacing) > 0 {
		flush()
	}
	return pages
}

// SetSequence renumbers a complete page and refreshes its checksum
func SetSequence(page []byte, sequence uint32) {
	binary.LittleEndian.PutUint32(page[18:], sequence)
	SetChecksum(page)
}
