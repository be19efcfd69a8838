package IO

import (
	"github.com/ballgpt/ballgpt/metrics"
)

// TokenBatch is one rectangular training batch. Inputs are padded with a real
// pad token id so every position embeds cleanly; Targets are padded with the
// metrics sentinel so padded positions drop out of every metric denominator.
type TokenBatch struct {
	Inputs  [][]int
	Targets [][]int
}

// NewTokenBatch pads (or right-truncates) each id sequence to maxLen.
func NewTokenBatch(seqs [][]int, maxLen, padTokenID int) TokenBatch {
	b := TokenBatch{
		Inputs:  make([][]int, len(seqs)),
		Targets: make([][]int, len(seqs)),
	}
	for i, seq := range seqs {
		if len(seq) > maxLen {
			seq = seq[:maxLen]
		}
		in := make([]int, maxLen)
		tg := make([]int, maxLen)
		copy(in, seq)
		copy(tg, seq)
		for t := len(seq); t < maxLen; t++ {
			in[t] = padTokenID
			tg[t] = metrics.PadID
		}
		b.Inputs[i] = in
		b.Targets[i] = tg
	}
	return b
}

// Size returns (batch, time).
func (b TokenBatch) Size() (int, int) {
	if len(b.Inputs) == 0 {
		return 0, 0
	}
	return len(b.Inputs), len(b.Inputs[0])
}
