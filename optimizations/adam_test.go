package optimizations

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// First step with zero moments: mhat = g, vhat = g^2, so the update is
// lr * (g/(|g|+eps) + wd*p) = lr * (sign(g) + wd*p) up to eps.
func TestAdamFirstStep(t *testing.T) {
	p := mat.NewDense(1, 2, []float64{1.0, -2.0})
	g := mat.NewDense(1, 2, []float64{0.5, -0.25})
	m := mat.NewDense(1, 2, nil)
	v := mat.NewDense(1, 2, nil)

	lr, wd := 0.1, 0.0
	AdamUpdateInPlace(p, g, m, v, 1, lr, 0.9, 0.999, 1e-8, wd)

	want0 := 1.0 - lr*1.0  // sign(0.5) = +1
	want1 := -2.0 + lr*1.0 // sign(-0.25) = -1
	if math.Abs(p.At(0, 0)-want0) > 1e-6 {
		t.Errorf("p[0] = %v, want %v", p.At(0, 0), want0)
	}
	if math.Abs(p.At(0, 1)-want1) > 1e-6 {
		t.Errorf("p[1] = %v, want %v", p.At(0, 1), want1)
	}
}

func TestAdamWeightDecayIsDecoupled(t *testing.T) {
	// zero gradient: only the decay term moves the parameter
	p := mat.NewDense(1, 1, []float64{2.0})
	g := mat.NewDense(1, 1, nil)
	m := mat.NewDense(1, 1, nil)
	v := mat.NewDense(1, 1, nil)

	AdamUpdateInPlace(p, g, m, v, 1, 0.1, 0.9, 0.999, 1e-8, 0.01)

	want := 2.0 * (1 - 0.1*0.01)
	if math.Abs(p.At(0, 0)-want) > 1e-12 {
		t.Errorf("p = %v, want %v", p.At(0, 0), want)
	}
}

func TestAdamZeroLRIsNoOp(t *testing.T) {
	p := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	g := mat.NewDense(2, 2, []float64{5, 6, 7, 8})
	m := mat.NewDense(2, 2, nil)
	v := mat.NewDense(2, 2, nil)
	want := mat.DenseCopyOf(p)

	AdamUpdateInPlace(p, g, m, v, 1, 0.0, 0.9, 0.999, 1e-8, 0.01)

	if !mat.Equal(p, want) {
		t.Error("lr=0 update changed the parameter")
	}
}

func TestClipGrads(t *testing.T) {
	a := mat.NewDense(1, 2, []float64{3, 0})
	b := mat.NewDense(1, 1, []float64{4})

	// joint norm is 5; clipping to 1 scales by 0.2
	s := ClipGrads(1.0, a, nil, b)
	if math.Abs(s-0.2) > 1e-12 {
		t.Errorf("scale = %v, want 0.2", s)
	}
	if math.Abs(a.At(0, 0)-0.6) > 1e-12 || math.Abs(b.At(0, 0)-0.8) > 1e-12 {
		t.Errorf("clipped grads = %v, %v; want 0.6, 0.8", a.At(0, 0), b.At(0, 0))
	}

	// under the limit: untouched, scale 1
	if s := ClipGrads(10.0, a, b); s != 1.0 {
		t.Errorf("scale = %v, want 1.0 when under the limit", s)
	}
	if s := ClipGrads(0, a, b); s != 1.0 {
		t.Errorf("scale = %v, want 1.0 when clipping disabled", s)
	}
}
