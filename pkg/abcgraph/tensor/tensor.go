// Package tensor provides the dense row-major matrices that flow through
// the computation graph. The first axis always indexes samples: row i of
// a node's output is sample i of its stream.
//
// The package deliberately implements only what the engine needs:
// construction, row slicing, vertical stacking, and the broadcast rules
// for turning caller-supplied scalars and vectors into sample batches.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape indicates incompatible shapes for an operation.
var ErrShape = errors.New("incompatible shapes")

// Dense is a dense row-major float64 matrix.
type Dense struct {
	rows, cols int
	data       []float64
}

// New creates a rows x cols matrix backed by data. The backing slice must
// hold exactly rows*cols values.
func New(rows, cols int, data []float64) (*Dense, error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("new %dx%d with %d values: %w", rows, cols, len(data), ErrShape)
	}
	return &Dense{rows: rows, cols: cols, data: data}, nil
}

// Zeros creates a rows x cols matrix of zeros.
func Zeros(rows, cols int) *Dense {
	return &Dense{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// FromColumn creates a (len(values), 1) matrix from a vector.
func FromColumn(values []float64) *Dense {
	data := make([]float64, len(values))
	copy(data, values)
	return &Dense{rows: len(values), cols: 1, data: data}
}

// FromScalar creates a (1, 1) matrix.
func FromScalar(v float64) *Dense {
	return &Dense{rows: 1, cols: 1, data: []float64{v}}
}

// Rows returns the number of samples (length of the first axis).
func (d *Dense) Rows() int { return d.rows }

// Cols returns the number of columns.
func (d *Dense) Cols() int { return d.cols }

// At returns the value at row i, column j.
func (d *Dense) At(i, j int) float64 { return d.data[i*d.cols+j] }

// Set assigns the value at row i, column j.
func (d *Dense) Set(i, j int, v float64) { d.data[i*d.cols+j] = v }

// Row returns row i as a slice sharing the matrix backing store.
func (d *Dense) Row(i int) []float64 {
	return d.data[i*d.cols : (i+1)*d.cols]
}

// SetRow copies values into row i. The lengths must match.
func (d *Dense) SetRow(i int, values []float64) error {
	if len(values) != d.cols {
		return fmt.Errorf("set row of %d values into %d columns: %w", len(values), d.cols, ErrShape)
	}
	copy(d.Row(i), values)
	return nil
}

// Column returns a copy of column j.
func (d *Dense) Column(j int) []float64 {
	out := make([]float64, d.rows)
	for i := range out {
		out[i] = d.At(i, j)
	}
	return out
}

// Slice returns the sub-matrix of rows [start, end) sharing the backing
// store. Callers must not mutate the result.
func (d *Dense) Slice(start, end int) (*Dense, error) {
	if start < 0 || end < start || end > d.rows {
		return nil, fmt.Errorf("slice rows [%d,%d) of %d: %w", start, end, d.rows, ErrShape)
	}
	return &Dense{
		rows: end - start,
		cols: d.cols,
		data: d.data[start*d.cols : end*d.cols],
	}, nil
}

// Take returns a new matrix holding the given rows in order.
func (d *Dense) Take(indices []int) *Dense {
	out := Zeros(len(indices), d.cols)
	for i, idx := range indices {
		copy(out.Row(i), d.Row(idx))
	}
	return out
}

// Tile repeats a single-row matrix n times along the first axis.
func (d *Dense) Tile(n int) (*Dense, error) {
	if d.rows != 1 {
		return nil, fmt.Errorf("tile %d rows: %w", d.rows, ErrShape)
	}
	out := Zeros(n, d.cols)
	for i := 0; i < n; i++ {
		copy(out.Row(i), d.data)
	}
	return out, nil
}

// Clone returns a deep copy.
func (d *Dense) Clone() *Dense {
	data := make([]float64, len(d.data))
	copy(data, d.data)
	return &Dense{rows: d.rows, cols: d.cols, data: data}
}

// Equal reports whether two matrices have identical shape and values.
func Equal(a, b *Dense) bool {
	if a.rows != b.rows || a.cols != b.cols {
		return false
	}
	for i, v := range a.data {
		if v != b.data[i] {
			return false
		}
	}
	return true
}

// Vstack concatenates matrices along the first axis. All parts must have
// the same number of columns; zero-row parts are skipped.
func Vstack(parts ...*Dense) (*Dense, error) {
	cols := -1
	rows := 0
	for _, p := range parts {
		if p.rows == 0 {
			continue
		}
		if cols == -1 {
			cols = p.cols
		} else if p.cols != cols {
			return nil, fmt.Errorf("vstack columns %d and %d: %w", cols, p.cols, ErrShape)
		}
		rows += p.rows
	}
	if cols == -1 {
		return Zeros(0, 0), nil
	}
	out := Zeros(rows, cols)
	at := 0
	for _, p := range parts {
		copy(out.data[at:at+len(p.data)], p.data)
		at += len(p.data)
	}
	return out, nil
}

// Normalize broadcasts a caller-supplied value to a batch of n samples:
//
//   - float64 and int become an (n, 1) column of the repeated value
//   - []float64 of length l becomes an (l, 1) column
//   - a single-row *Dense is tiled to (n, cols)
//   - any other *Dense passes through unchanged
//
// This mirrors how observed values and forced parameter values are fed
// into the graph.
func Normalize(value any, n int) (*Dense, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *Dense:
		if v.rows == 1 && n > 1 {
			return v.Tile(n)
		}
		return v, nil
	case float64:
		return FromScalar(v).Tile(n)
	case int:
		return FromScalar(float64(v)).Tile(n)
	case []float64:
		return FromColumn(v), nil
	default:
		return nil, fmt.Errorf("cannot normalize %T to a sample batch", value)
	}
}

// Mean returns the mean of column j.
func (d *Dense) Mean(j int) float64 {
	if d.rows == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := 0; i < d.rows; i++ {
		sum += d.At(i, j)
	}
	return sum / float64(d.rows)
}
