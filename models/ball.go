package models

// The ball variant keeps every projection's effective weight on the unit
// hypersphere and unit-normalizes the norm layers' affine parameters,
// changing the inductive bias from "project by arbitrary linear map" to
// "project by direction only". The read-out head is exempt and keeps its full
// affine freedom (and the fused execution path when configured).

// NewBall builds the ball variant directly: sphere projections and sphere
// norms everywhere except the exempt head.
func NewBall(cfg Config) (*LM, error) {
	return build(cfg, SphereProjection, SphereNorm)
}

// SphereReparam rewrites an already-built model so every plain projection and
// norm becomes its sphere variant, sharing the same raw parameters. This is a
// structural rewrite of how the layers compute, not a projection of their
// stored values: the raw tensors are untouched and remain unconstrained.
//
// Applying it twice is a no-op — layers that are already sphere (or exempt)
// pass through unchanged, so nothing ever double-normalizes.
func SphereReparam(m *LM) {
	if m.sphere {
		return
	}
	for _, b := range m.Blocks {
		b.spherify()
	}
	m.FinalNorm = m.FinalNorm.Spherify()
	// Head stays exempt on purpose.
	m.sphere = true
}

// Density averages the per-projection density over every sphere projection in
// the tree. A base model has none and reports 0.
func (m *LM) Density() float64 {
	sum, n := 0.0, 0
	add := func(l *Linear) {
		if l.Kind() == SphereProjection {
			sum += l.density()
			n++
		}
	}
	for _, b := range m.Blocks {
		add(b.Attn.Q)
		add(b.Attn.K)
		add(b.Attn.V)
		add(b.Attn.O)
		add(b.Mlp.Hidden)
		add(b.Mlp.Out)
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
