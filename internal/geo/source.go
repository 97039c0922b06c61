package geo

import (
	"context"
	"errors"
	"sync"
)

// ErrPermissionDenied is returned by a position source when the user has not
// granted location access.
var ErrPermissionDenied = errors.New("location permission denied")

// Throttle forwards the first fix from in and afterwards only fixes at least
// minMeters away from the last forwarded one. The returned channel closes
// when in closes or ctx is done.
func Throttle(ctx context.Context, in <-chan Point, minMeters float64) <-chan Point {
	out := make(chan Point)
	go func() {
		defer close(out)

		var last Point
		have := false
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-in:
				if !ok {
					return
				}
				if !p.Valid() {
					continue
				}
				if have && Distance(last, p) < minMeters {
					continue
				}
				select {
				case out <- p:
					last, have = p, true
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ChanSource is a position provider fed by Push. It serves devices that
// stream fixes over the network or from stdin.
type ChanSource struct {
	mu     sync.Mutex
	latest Point
	hasFix bool
	denied bool
	fixed  chan struct{}
	subs   map[chan Point]struct{}
	closed bool
}

func NewChanSource() *ChanSource {
	return &ChanSource{
		fixed: make(chan struct{}),
		subs:  make(map[chan Point]struct{}),
	}
}

// Push records a new fix and fans it out to subscribers. Subscribers that are
// not keeping up miss the fix; the next one supersedes it anyway.
func (s *ChanSource) Push(p Point) {
	if !p.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.latest = p
	if !s.hasFix {
		s.hasFix = true
		close(s.fixed)
	}
	for ch := range s.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Deny marks location permission as refused.
func (s *ChanSource) Deny() {
	s.mu.Lock()
	s.denied = true
	s.mu.Unlock()
}

// Allow lifts an earlier Deny.
func (s *ChanSource) Allow() {
	s.mu.Lock()
	s.denied = false
	s.mu.Unlock()
}

// Current returns the latest fix, waiting for the first one if necessary.
func (s *ChanSource) Current(ctx context.Context) (Point, error) {
	s.mu.Lock()
	if s.denied {
		s.mu.Unlock()
		return Point{}, ErrPermissionDenied
	}
	fixed := s.fixed
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Point{}, ctx.Err()
	case <-fixed:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

// Subscribe returns a stream of fixes throttled to throttleMeters, starting
// with the latest fix if there is one. The stream ends when ctx is done or the
// source is closed.
func (s *ChanSource) Subscribe(ctx context.Context, throttleMeters float64) (<-chan Point, error) {
	s.mu.Lock()
	if s.denied {
		s.mu.Unlock()
		return nil, ErrPermissionDenied
	}
	raw := make(chan Point, 8)
	if s.hasFix {
		raw <- s.latest
	}
	if s.closed {
		close(raw)
	} else {
		s.subs[raw] = struct{}{}
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.unsubscribe(raw)
	}()

	return Throttle(ctx, raw, throttleMeters), nil
}

func (s *ChanSource) unsubscribe(ch chan Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// Close ends every subscription.
func (s *ChanSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
