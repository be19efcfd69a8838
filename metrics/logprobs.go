// Package metrics computes per-token training signals (cross-entropy loss,
// perplexity, top-1 accuracy, sampled-token probability) from model
// log-probabilities. All four operations share one alignment and masking
// contract: targets equal to the padding id are excluded from every
// denominator, and with shift enabled position t of the log-probabilities is
// scored against the token at position t+1.
//
// The engine only ever gathers the single log-probability of the target token
// per position. It never materializes a softmax or any [B,T,V]-sized
// intermediate beyond its input.
package metrics

import "fmt"

// PadID is the default padding sentinel. It never collides with a real
// vocabulary id, which are drawn from [0, V).
const PadID = -1

// LogProbs is a [batch, time, vocab] tensor of log-probabilities, stored
// row-major. Values are assumed already normalized along the vocabulary axis
// (sum_v exp(lp[b,t,v]) ~= 1); the metrics never re-normalize.
type LogProbs struct {
	b, t, v int
	data    []float64
}

// NewLogProbs allocates a zeroed [b, t, v] tensor.
func NewLogProbs(b, t, v int) *LogProbs {
	if b <= 0 || t <= 0 || v <= 0 {
		panic(fmt.Sprintf("metrics: invalid LogProbs dims (%d, %d, %d)", b, t, v))
	}
	return &LogProbs{b: b, t: t, v: v, data: make([]float64, b*t*v)}
}

// Dims returns (batch, time, vocab).
func (lp *LogProbs) Dims() (b, t, v int) { return lp.b, lp.t, lp.v }

// At returns lp[b, t, v].
func (lp *LogProbs) At(b, t, v int) float64 {
	return lp.data[(b*lp.t+t)*lp.v+v]
}

// Set writes lp[b, t, v].
func (lp *LogProbs) Set(b, t, v int, x float64) {
	lp.data[(b*lp.t+t)*lp.v+v] = x
}

// Row returns the vocabulary slice at position (b, t). The slice shares the
// tensor's backing array.
func (lp *LogProbs) Row(b, t int) []float64 {
	off := (b*lp.t + t) * lp.v
	return lp.data[off : off+lp.v]
}

// SetRow copies vals into the vocabulary slice at position (b, t).
func (lp *LogProbs) SetRow(b, t int, vals []float64) {
	if len(vals) != lp.v {
		panic(fmt.Sprintf("metrics: SetRow got %d values, vocab is %d", len(vals), lp.v))
	}
	copy(lp.Row(b, t), vals)
}
