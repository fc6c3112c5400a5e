package opt

import "iter"

// Args is one bundle of extra arguments handed to the objective and gradient
// functions for a single step, e.g. a minibatch.
type Args struct {
	Pos []any
	Kw  map[string]any
}

// ArgStream yields one Args per step. Minimizers stop when it is exhausted.
type ArgStream interface {
	Next() (Args, bool)
}

type repeatStream struct {
	a Args
}

func (s repeatStream) Next() (Args, bool) {
	return s.a, true
}

// Repeat returns an infinite stream that yields a on every step. This is the
// full-batch setting.
func Repeat(a Args) ArgStream {
	return repeatStream{a: a}
}

// Empty returns an infinite stream of empty argument bundles. It is the
// default stream for every minimizer.
func Empty() ArgStream {
	return Repeat(Args{})
}

type sliceStream struct {
	items []Args
	pos   int
}

func (s *sliceStream) Next() (Args, bool) {
	if s.pos >= len(s.items) {
		return Args{}, false
	}
	a := s.items[s.pos]
	s.pos++
	return a, true
}

// FromSlice returns a finite stream over items.
func FromSlice(items []Args) ArgStream {
	return &sliceStream{items: items}
}

type cycleStream struct {
	items []Args
	pos   int
}

func (s *cycleStream) Next() (Args, bool) {
	a := s.items[s.pos]
	s.pos = (s.pos + 1) % len(s.items)
	return a, true
}

// Cycle returns an infinite stream that walks over items again and again,
// e.g. minibatches over several epochs. items must not be empty.
func Cycle(items []Args) ArgStream {
	if len(items) == 0 {
		panic("opt: Cycle needs at least one item")
	}
	return &cycleStream{items: items}
}

type seqStream struct {
	next func() (Args, bool)
	stop func()
	done bool
}

func (s *seqStream) Next() (Args, bool) {
	if s.done {
		return Args{}, false
	}
	a, ok := s.next()
	if !ok {
		s.done = true
		s.stop()
	}
	return a, ok
}

// FromSeq returns a stream pulling from seq. The underlying iterator is
// released once it reports exhaustion.
func FromSeq(seq iter.Seq[Args]) ArgStream {
	next, stop := iter.Pull(seq)
	return &seqStream{next: next, stop: stop}
}
