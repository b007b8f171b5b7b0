package timeline

import (
	"context"
	"time"

	"render-compositor/gpu"
)

// Observation is what one Sync or Poll saw of the peer's counter.
type Observation struct {
	Value uint64 // counter value the caller may rely on
	// Ready is set when the counter had already reached the expected value
	// so no wait was issued.
	Ready bool
	// Overrun is set when the counter was past the expected value: the
	// peer got ahead and the expectation was resynchronised to it.
	Overrun bool
}

// Peer tracks the value this process next expects from the other process's
// timeline.
type Peer struct {
	sem      gpu.Semaphore
	step     uint64
	expected uint64

	Timeout time.Duration
}

func NewPeer(sem gpu.Semaphore, step uint64) *Peer {
	return &Peer{sem: sem, step: step, Timeout: DefaultTimeout}
}

// Expected is the value the next Sync requires.
func (p *Peer) Expected() uint64 { return p.expected }

// Bootstrap sets the first expectation one step past the peer's current
// value so the first Sync does not return on a stale counter.
func (p *Peer) Bootstrap() (observed uint64, err error) {
	observed, err = p.sem.Value()
	if err != nil {
		return 0, err
	}
	p.expected = observed + p.step
	return observed, nil
}

// peek applies the overrun rule: a counter at or past the expectation is
// taken as-is and the expectation catches up to it.
func (p *Peer) peek() (Observation, error) {
	v, err := p.sem.Value()
	if err != nil {
		return Observation{}, err
	}
	if v < p.expected {
		return Observation{Value: v}, nil
	}
	obs := Observation{Value: v, Ready: true, Overrun: v > p.expected}
	p.expected = v
	return obs, nil
}

// Sync waits, bounded by Timeout, until the peer reaches the expected value
// and then expects one more step. If the peer is already there it does not
// block.
func (p *Peer) Sync(ctx context.Context) (Observation, error) {
	obs, err := p.peek()
	if err != nil {
		return obs, err
	}
	if !obs.Ready {
		if err := waitFor(ctx, p.sem, p.expected, p.Timeout); err != nil {
			return obs, err
		}
		obs.Value = p.expected
	}
	p.expected += p.step
	return obs, nil
}

// Poll is the non-blocking form of Sync. When the peer has not reached the
// expected value it reports Ready == false and leaves the expectation as
// is.
func (p *Peer) Poll() (Observation, error) {
	obs, err := p.peek()
	if err != nil || !obs.Ready {
		return obs, err
	}
	p.expected += p.step
	return obs, nil
}
