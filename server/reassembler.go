package server

import (
	"fmt"

	"github.com/cyberinferno/go-lobby/bufferpool"
	"github.com/cyberinferno/go-lobby/frame"
)

type phase uint8

const (
	awaitHeader phase = iota
	awaitBody
)

// reassembler turns a byte stream into frames. Bytes are read straight into
// space() and committed; next() then extracts complete frames one at a time.
// A message slot is taken from the pool only once a header has been parsed,
// and it is held across calls until its body is complete.
type reassembler struct {
	buf   []byte
	n     int
	phase phase
	need  int
	cur   *bufferpool.Message
}

func newReassembler(size int) *reassembler {
	return &reassembler{buf: make([]byte, size), need: frame.HeaderSize}
}

// space returns the free tail of the accumulator.
func (r *reassembler) space() []byte {
	return r.buf[r.n:]
}

// commit records n bytes written into space().
func (r *reassembler) commit(n int) {
	r.n += n
}

func (r *reassembler) full() bool {
	return r.n == len(r.buf)
}

func (r *reassembler) buffered() int {
	return r.n
}

// next extracts the next complete frame.
//
// Returns:
//   - A message holding the frame's header and payload, or nil if more
//     bytes are needed
//   - bufferpool.ErrPoolExhausted if a header is ready but no slot is free;
//     nothing is consumed and the call may be retried
//   - An errProtocol error for a header with an impossible length
func (r *reassembler) next(acquire func() (*bufferpool.Message, error)) (*bufferpool.Message, error) {
	for r.n >= r.need {
		switch r.phase {
		case awaitHeader:
			h, err := frame.DecodeHeader(r.buf[:r.n])
			if err != nil {
				return nil, err
			}
			if err := h.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %w", errProtocol, err)
			}

			m, err := acquire()
			if err != nil {
				return nil, err
			}

			m.Header = h
			r.cur = m
			r.consume(frame.HeaderSize)
			r.phase = awaitBody
			r.need = h.PayloadLen()

		case awaitBody:
			m := r.cur
			copy(m.PayloadBuffer(r.need), r.buf[:r.need])
			r.consume(r.need)
			r.cur = nil
			r.phase = awaitHeader
			r.need = frame.HeaderSize

			return m, nil
		}
	}

	return nil, nil
}

// consume drops k bytes from the front, shifting the remainder down.
func (r *reassembler) consume(k int) {
	copy(r.buf, r.buf[k:r.n])
	r.n -= k
}

// reset discards buffered bytes and hands back any partially filled slot.
func (r *reassembler) reset(release func(*bufferpool.Message)) {
	if r.cur != nil {
		release(r.cur)
		r.cur = nil
	}

	r.n = 0
	r.phase = awaitHeader
	r.need = frame.HeaderSize
}
