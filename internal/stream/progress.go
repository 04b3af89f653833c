package stream

import (
	"math/rand/v2"
	"sync"
	"time"
)

// ProgressCap is the highest value the heuristic reaches before completion.
const ProgressCap = 95

// Progress is an advisory liveness indicator for media jobs. It climbs by
// random increments, never reaches 100 on its own, and snaps to 100 on Complete.
type Progress struct {
	mu       sync.Mutex
	value    int
	finished bool
	onUpdate func(int)
	stop     chan struct{}
	stopOnce sync.Once
}

// StartProgress ticks every interval until tok is cancelled, Stop or Complete.
// onUpdate is called serially and never after Complete or Stop return.
func StartProgress(tok *Token, interval time.Duration, rnd *rand.Rand, onUpdate func(int)) *Progress {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if onUpdate == nil {
		onUpdate = func(int) {}
	}
	p := &Progress{onUpdate: onUpdate, stop: make(chan struct{})}
	go p.run(tok, interval, rnd)
	return p
}

func (p *Progress) run(tok *Token, interval time.Duration, rnd *rand.Rand) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-tok.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.finished {
				p.mu.Unlock()
				return
			}
			next := p.value + 2 + rnd.IntN(8)
			if next > ProgressCap {
				next = ProgressCap
			}
			if next != p.value {
				p.value = next
				p.onUpdate(next)
			}
			p.mu.Unlock()
		}
	}
}

// Value returns the last reported value.
func (p *Progress) Value() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Complete snaps to 100.
func (p *Progress) Complete() {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.value = 100
	p.onUpdate(100)
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })
}

// Stop freezes the indicator without completing it.
func (p *Progress) Stop() {
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })
}
