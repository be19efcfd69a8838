package models

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/utils"
)

// weightedSum is the test loss: a fixed random inner product with the output,
// so dLoss/dY is exactly the coefficient matrix.
func weightedSum(Y, C *mat.Dense) float64 {
	r, c := Y.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += Y.At(i, j) * C.At(i, j)
		}
	}
	return s
}

func finiteDiffCheck(t *testing.T, name string, param *mat.Dense, grad *mat.Dense,
	forward func() float64, i, j int) {
	t.Helper()

	eps := 1e-5
	w0 := param.At(i, j)

	param.Set(i, j, w0+eps)
	lp := forward()

	param.Set(i, j, w0-eps)
	lm := forward()

	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := grad.At(i, j)

	if math.Abs(numGrad-anaGrad) > 1e-4 {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.6g ana=%.6g",
			name, i, j, numGrad, anaGrad)
	}
}

func TestLinearPlainGradCheck(t *testing.T) {
	rand.Seed(123)
	in, out, T := 4, 5, 3
	l, err := NewLinear(in, out, PlainProjection, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	X := mat.NewDense(in, T, utils.RandomArray(in*T, float64(in)))
	C := mat.NewDense(out, T, utils.RandomArray(out*T, 1))

	forward := func() float64 { return weightedSum(l.Forward(X), C) }

	l.Forward(X)
	dX, dW, dB := l.BackwardGradsOnly(C)

	finiteDiffCheck(t, "W", l.W, dW, forward, 1, 2)
	finiteDiffCheck(t, "B", l.B, dB, forward, 3, 0)
	finiteDiffCheck(t, "X", X, dX, forward, 2, 1)
}

func TestLinearSphereGradCheck(t *testing.T) {
	rand.Seed(123)
	in, out, T := 4, 5, 3
	l, err := NewLinear(in, out, SphereProjection, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	X := mat.NewDense(in, T, utils.RandomArray(in*T, float64(in)))
	C := mat.NewDense(out, T, utils.RandomArray(out*T, 1))

	forward := func() float64 { return weightedSum(l.Forward(X), C) }

	l.Forward(X)
	dX, dW, _ := l.BackwardGradsOnly(C)

	// The pullback through row normalization is the delicate part: check a
	// few raw-weight entries, not just one.
	finiteDiffCheck(t, "W", l.W, dW, forward, 0, 0)
	finiteDiffCheck(t, "W", l.W, dW, forward, 2, 3)
	finiteDiffCheck(t, "W", l.W, dW, forward, 4, 1)
	finiteDiffCheck(t, "X", X, dX, forward, 1, 2)
}

func TestLayerNormGradCheck(t *testing.T) {
	rand.Seed(123)
	d, T := 6, 3
	for _, kind := range []NormKind{PlainNorm, SphereNorm} {
		ln := NewLayerNorm(d, kind, 1e-5, nil)
		// move gamma/beta off their init so the sphere pullback is nontrivial
		for i := 0; i < d; i++ {
			ln.Gamma.Set(i, 0, 1.0+0.3*float64(i))
			ln.Beta.Set(i, 0, 0.1*float64(i)-0.2)
		}
		X := mat.NewDense(d, T, utils.RandomArray(d*T, 1))
		C := mat.NewDense(d, T, utils.RandomArray(d*T, 1))

		forward := func() float64 { return weightedSum(ln.Forward(X), C) }

		ln.Forward(X)
		dX, dGamma, dBeta := ln.BackwardGradsOnly(C)

		name := kind.String()
		finiteDiffCheck(t, name+".gamma", ln.Gamma, dGamma, forward, 1, 0)
		finiteDiffCheck(t, name+".gamma", ln.Gamma, dGamma, forward, 4, 0)
		finiteDiffCheck(t, name+".beta", ln.Beta, dBeta, forward, 2, 0)
		finiteDiffCheck(t, name+".x", X, dX, forward, 3, 1)
	}
}

func zeroLROpt() *Opt {
	opt := DefaultOpt()
	opt.GradClip = 0
	return opt
}

func TestAttentionGradCheck(t *testing.T) {
	rand.Seed(123)
	d, heads, T := 4, 2, 3
	attn, err := NewAttention(d, heads, PlainProjection, zeroLROpt())
	if err != nil {
		t.Fatal(err)
	}
	X := mat.NewDense(d, T, utils.RandomArray(d*T, float64(d)))
	C := mat.NewDense(d, T, utils.RandomArray(d*T, 1))

	// LearningRate stays 0, so Backward's updates are no-ops and the weights
	// are stable across repeated forwards.
	forward := func() float64 { return weightedSum(attn.Forward(X), C) }

	attn.Forward(X)
	dX := attn.Backward(C)

	finiteDiffCheck(t, "x", X, dX, forward, 0, 0)
	finiteDiffCheck(t, "x", X, dX, forward, 2, 1)
	finiteDiffCheck(t, "x", X, dX, forward, 3, 2)
}

func TestMLPGradCheck(t *testing.T) {
	rand.Seed(123)
	d, hidden, T := 4, 7, 2
	for _, kind := range []ProjectionKind{PlainProjection, SphereProjection} {
		mlp, err := NewMLP(d, hidden, kind, zeroLROpt())
		if err != nil {
			t.Fatal(err)
		}
		X := mat.NewDense(d, T, utils.RandomArray(d*T, float64(d)))
		C := mat.NewDense(d, T, utils.RandomArray(d*T, 1))

		forward := func() float64 { return weightedSum(mlp.Forward(X), C) }

		mlp.Forward(X)
		dX := mlp.Backward(C)

		finiteDiffCheck(t, kind.String()+".x", X, dX, forward, 1, 0)
		finiteDiffCheck(t, kind.String()+".x", X, dX, forward, 3, 1)
	}
}

func TestBlockGradCheck(t *testing.T) {
	rand.Seed(123)
	cfg := Config{
		VocabSize:  10,
		DModel:     4,
		NumHeads:   2,
		HiddenSize: 6,
		NumLayers:  1,
		SeqLen:     8,
		PadTokenID: 0,
	}
	for _, kind := range []ProjectionKind{PlainProjection, SphereProjection} {
		normKind := PlainNorm
		if kind == SphereProjection {
			normKind = SphereNorm
		}
		blk, err := NewBlock(cfg, kind, normKind, zeroLROpt())
		if err != nil {
			t.Fatal(err)
		}
		T := 3
		X := mat.NewDense(cfg.DModel, T, utils.RandomArray(cfg.DModel*T, 1))
		C := mat.NewDense(cfg.DModel, T, utils.RandomArray(cfg.DModel*T, 1))

		forward := func() float64 { return weightedSum(blk.Forward(X), C) }

		blk.Forward(X)
		dX := blk.Backward(C)

		finiteDiffCheck(t, kind.String()+".x", X, dX, forward, 0, 1)
		finiteDiffCheck(t, kind.String()+".x", X, dX, forward, 3, 2)
	}
}

func TestLogProbsColumnsNormalized(t *testing.T) {
	rand.Seed(123)
	cfg := Config{
		VocabSize:  12,
		DModel:     8,
		NumHeads:   2,
		HiddenSize: 16,
		NumLayers:  2,
		SeqLen:     8,
		PadTokenID: 0,
	}
	for tag := range Registry {
		m, err := Build(tag, cfg)
		if err != nil {
			t.Fatal(err)
		}
		logp := m.LogProbsSeq([]int{1, 4, 2, 0})
		V, T := logp.Dims()
		if V != cfg.VocabSize || T != 4 {
			t.Fatalf("%s: logp dims (%d x %d), want (%d x 4)", tag, V, T, cfg.VocabSize)
		}
		for tt := 0; tt < T; tt++ {
			s := 0.0
			for v := 0; v < V; v++ {
				s += math.Exp(logp.At(v, tt))
			}
			if math.Abs(s-1.0) > 1e-9 {
				t.Errorf("%s: column %d sums to %v, want 1", tag, tt, s)
			}
		}
	}
}
