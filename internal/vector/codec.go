package vector

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Normalize returns v scaled to unit L2 norm as a new slice.
// A zero or non-finite norm fails with ErrDegenerateVector instead of producing NaN.
func Normalize(v []float32) ([]float32, error) {
	norm := L2Norm(v)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: norm is %v", ErrDegenerateVector, norm)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// NormalizeRows normalizes every row of a batch. The first degenerate row fails the whole batch.
func NormalizeRows(rows [][]float32) ([][]float32, error) {
	out := make([][]float32, len(rows))
	for i, row := range rows {
		n, err := Normalize(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

// Coerce2D returns data as a row-major matrix with one row per vector.
// Single vectors ([]float32, []float64, mat.Vector) become a one-row matrix;
// batches ([][]float32, [][]float64, mat.Matrix) keep their rows.
// Empty, ragged, or unsupported input fails with ErrShapeMismatch.
func Coerce2D(data interface{}) (*mat.Dense, error) {
	switch d := data.(type) {
	case []float32:
		if len(d) == 0 {
			return nil, fmt.Errorf("%w: empty vector", ErrShapeMismatch)
		}
		return mat.NewDense(1, len(d), float32sTo64(d)), nil
	case []float64:
		if len(d) == 0 {
			return nil, fmt.Errorf("%w: empty vector", ErrShapeMismatch)
		}
		return mat.NewDense(1, len(d), append([]float64(nil), d...)), nil
	case [][]float32:
		cols, err := batchWidth(len(d), func(i int) int { return len(d[i]) })
		if err != nil {
			return nil, err
		}
		buf := make([]float64, 0, len(d)*cols)
		for _, row := range d {
			for _, x := range row {
				buf = append(buf, float64(x))
			}
		}
		return mat.NewDense(len(d), cols, buf), nil
	case [][]float64:
		cols, err := batchWidth(len(d), func(i int) int { return len(d[i]) })
		if err != nil {
			return nil, err
		}
		buf := make([]float64, 0, len(d)*cols)
		for _, row := range d {
			buf = append(buf, row...)
		}
		return mat.NewDense(len(d), cols, buf), nil
	case mat.Vector:
		n := d.Len()
		if n == 0 {
			return nil, fmt.Errorf("%w: empty vector", ErrShapeMismatch)
		}
		buf := make([]float64, n)
		for i := range buf {
			buf[i] = d.AtVec(i)
		}
		return mat.NewDense(1, n, buf), nil
	case mat.Matrix:
		r, c := d.Dims()
		if r == 0 || c == 0 {
			return nil, fmt.Errorf("%w: empty matrix", ErrShapeMismatch)
		}
		return mat.DenseCopyOf(d), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrShapeMismatch, data)
	}
}

// batchWidth returns the common row length of a batch, rejecting empty and ragged batches.
func batchWidth(rows int, width func(int) int) (int, error) {
	if rows == 0 {
		return 0, fmt.Errorf("%w: empty batch", ErrShapeMismatch)
	}
	cols := width(0)
	if cols == 0 {
		return 0, fmt.Errorf("%w: empty row", ErrShapeMismatch)
	}
	for i := 1; i < rows; i++ {
		if width(i) != cols {
			return 0, fmt.Errorf("%w: row %d has length %d, expected %d", ErrShapeMismatch, i, width(i), cols)
		}
	}
	return cols, nil
}

// normalizeDenseRows scales each row of m to unit length in place.
func normalizeDenseRows(m *mat.Dense) error {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		// One view as both receiver and operand: gonum panics on two views of the same row.
		row := m.RowView(i).(*mat.VecDense)
		norm := mat.Norm(row, 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return fmt.Errorf("row %d: %w: norm is %v", i, ErrDegenerateVector, norm)
		}
		row.ScaleVec(1/norm, row)
	}
	return nil
}

// flattenFloat32 returns the rows of m as one contiguous float32 slice.
func flattenFloat32(m *mat.Dense) []float32 {
	r, c := m.Dims()
	out := make([]float32, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, float32(m.At(i, j)))
		}
	}
	return out
}

func float32sTo64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
