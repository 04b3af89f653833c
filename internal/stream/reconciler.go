// Package stream applies incrementally produced output to a message.
package stream

import (
	"strings"

	"go.uber.org/zap"

	"weave/internal/chat"
	"weave/internal/metrics"
)

// Fragment is one unit of streamed output. A fragment with Err set ends the stream.
type Fragment struct {
	Text string
	Err  error
}

// Final is the single terminal write for a streamed message.
type Final struct {
	Content string
	Outcome chat.Outcome
	Err     error
}

// Sink receives the effects of a stream, in order.
type Sink interface {
	Append(text string) error
	Finalize(f Final) error
}

// Result summarizes a consumed stream.
type Result struct {
	Final
	Applied   int
	Discarded int
}

type Reconciler struct {
	// CancelMarker is appended to the accumulated content on cancellation.
	CancelMarker string
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Consume applies fragments to sink until the channel closes, a fragment
// carries an error, or tok is cancelled. Finalize is called exactly once.
// After cancellation the rest of the channel is drained and discarded.
func (r *Reconciler) Consume(tok *Token, sink Sink, frags <-chan Fragment) Result {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var (
		buf strings.Builder
		res Result
	)

	for {
		if tok.Cancelled() {
			return r.cancel(sink, frags, buf.String(), res, log)
		}
		select {
		case <-tok.Done():
			return r.cancel(sink, frags, buf.String(), res, log)
		case f, ok := <-frags:
			if !ok {
				res.Final = Final{Content: buf.String(), Outcome: chat.OutcomeSuccess}
				r.finalize(sink, res.Final, log)
				return res
			}
			if tok.Cancelled() {
				res.Discarded++
				r.countDiscarded(1)
				return r.cancel(sink, frags, buf.String(), res, log)
			}
			if f.Err != nil {
				res.Final = Final{Content: buf.String(), Outcome: chat.OutcomeFailure, Err: f.Err}
				r.finalize(sink, res.Final, log)
				go r.drain(frags)
				return res
			}
			if f.Text == "" {
				continue
			}
			buf.WriteString(f.Text)
			if err := sink.Append(f.Text); err != nil {
				log.Debug("append dropped", zap.Error(err))
			}
			res.Applied++
			if r.Metrics != nil {
				r.Metrics.FragmentsApplied.Inc()
			}
		}
	}
}

func (r *Reconciler) cancel(sink Sink, frags <-chan Fragment, content string, res Result, log *zap.Logger) Result {
	res.Final = Final{Content: WithMarker(content, r.CancelMarker), Outcome: chat.OutcomeCancelled}
	r.finalize(sink, res.Final, log)
	go r.drain(frags)
	return res
}

func (r *Reconciler) finalize(sink Sink, f Final, log *zap.Logger) {
	if err := sink.Finalize(f); err != nil {
		log.Warn("finalize failed", zap.String("outcome", string(f.Outcome)), zap.Error(err))
	}
}

func (r *Reconciler) drain(frags <-chan Fragment) {
	n := 0
	for range frags {
		n++
	}
	r.countDiscarded(n)
}

func (r *Reconciler) countDiscarded(n int) {
	if r.Metrics != nil && n > 0 {
		r.Metrics.FragmentsDiscarded.Add(float64(n))
	}
}

// WithMarker appends the cancellation marker to content.
func WithMarker(content, marker string) string {
	if marker == "" {
		return content
	}
	if strings.TrimSpace(content) == "" {
		return marker
	}
	return content + "\n\n" + marker
}
