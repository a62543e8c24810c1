package komo

import (
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/motionplan/solver"
)

// BandedJacobian is a Jacobian whose rows each hold one contiguous block of values. Grid problems
// produce it: a feature on a tuple of consecutive steps only depends on the variables of those
// steps, which are adjacent in the decision vector.
type BandedJacobian struct {
	rows, cols int
	start      []int
	values     [][]float64
}

var (
	_ mat.Matrix       = (*BandedJacobian)(nil)
	_ solver.RowSparse = (*BandedJacobian)(nil)
)

// NewBandedJacobian returns an all zero rows by cols Jacobian. Zero rows are allowed.
func NewBandedJacobian(rows, cols int) *BandedJacobian {
	return &BandedJacobian{
		rows:   rows,
		cols:   cols,
		start:  make([]int, rows),
		values: make([][]float64, rows),
	}
}

// Dims returns the dimensions.
func (b *BandedJacobian) Dims() (int, int) {
	return b.rows, b.cols
}

// At returns the element at row i, column j.
func (b *BandedJacobian) At(i, j int) float64 {
	if i < 0 || i >= b.rows {
		panic(mat.ErrRowAccess)
	}
	if j < 0 || j >= b.cols {
		panic(mat.ErrColAccess)
	}
	k := j - b.start[i]
	if k < 0 || k >= len(b.values[i]) {
		return 0
	}
	return b.values[i][k]
}

// T returns the transpose.
func (b *BandedJacobian) T() mat.Matrix {
	return mat.Transpose{Matrix: b}
}

// SetRow stores values as row i starting at column start. The slice is retained.
func (b *BandedJacobian) SetRow(i, start int, values []float64) {
	if i < 0 || i >= b.rows {
		panic(mat.ErrRowAccess)
	}
	if start < 0 || start+len(values) > b.cols {
		panic(mat.ErrColAccess)
	}
	b.start[i] = start
	b.values[i] = values
}

// RowBlock returns the start column and the values of row i.
func (b *BandedJacobian) RowBlock(i int) (int, []float64) {
	return b.start[i], b.values[i]
}

// Dense expands the Jacobian. It returns nil for a Jacobian without rows or columns.
func (b *BandedJacobian) Dense() *mat.Dense {
	if b.rows == 0 || b.cols == 0 {
		return nil
	}
	d := mat.NewDense(b.rows, b.cols, nil)
	for i := range b.values {
		copy(d.RawRowView(i)[b.start[i]:], b.values[i])
	}
	return d
}
