// Package idgenerator hands out connection serial numbers. A serial travels
// with every message that concerns a connection so a stage can tell whether
// the socket number it holds still belongs to the same connection.
package idgenerator

import "sync/atomic"

// Generator produces increasing uint32 serials. Zero is never returned, so
// callers may use it to mean "no connection". The generator is safe for
// concurrent use.
type Generator struct {
	last atomic.Uint32
}

// New creates a Generator whose first serial is start+1 (or 1 if that wraps
// to zero).
//
// Parameters:
//   - start: The value the counter begins at
//
// Returns:
//   - A new Generator
func New(start uint32) *Generator {
	gen := &Generator{}
	gen.last.Store(start)
	return gen
}

// Next returns the next serial, skipping zero on wrap-around.
func (g *Generator) Next() uint32 {
	for {
		if v := g.last.Add(1); v != 0 {
			return v
		}
	}
}

// Last returns the most recently issued serial, or the start value if none
// has been issued.
func (g *Generator) Last() uint32 {
	return g.last.Load()
}
