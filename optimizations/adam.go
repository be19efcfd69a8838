// Package optimizations implements the in-place parameter updates used by
// every layer: AdamW with bias correction plus global-norm gradient clipping.
package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamUpdateInPlace applies one AdamW step:
// p -= lr * (mhat/(sqrt(vhat)+eps) + weightDecay*p) with bias correction.
// m and v are the first/second moment accumulators, t the 1-based step count.
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("optimizations: AdamUpdateInPlace grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("optimizations: AdamUpdateInPlace m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("optimizations: AdamUpdateInPlace v shape mismatch")
	}
	b1t := math.Pow(beta1, float64(t))
	b2t := math.Pow(beta2, float64(t))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			denom := math.Sqrt(vhat) + eps
			update := mhat/denom + weightDecay*p.At(i, j)
			p.Set(i, j, p.At(i, j)-lr*update)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
		}
	}
}

// ClipGrads rescales the given gradients so their joint L2 norm does not
// exceed maxNorm. Returns the applied scale (1.0 when no clipping happened).
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	if maxNorm <= 0 {
		return 1.0
	}
	total := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		r, c := g.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				v := g.At(i, j)
				total += v * v
			}
		}
	}
	norm := math.Sqrt(total)
	if norm <= maxNorm || norm == 0 {
		return 1.0
	}
	s := maxNorm / norm
	for _, g := range grads {
		if g == nil {
			continue
		}
		g.Scale(s, g)
	}
	return s
}
