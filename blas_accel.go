//go:build accelerate

package main

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Building with -tags accelerate routes every matrix product through the
// system BLAS instead of the pure-Go implementation.
func init() {
	blas64.Use(netlib.Implementation{})
}
