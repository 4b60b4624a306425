// Package tensor provides the dense row-major float32 matrix shared by the pipeline
// stages.
package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when an operand does not have the expected shape.
var ErrShapeMismatch = errors.New("shape mismatch")

// Shape is the two-dimensional extent of a Matrix.
type Shape struct {
	Rows int
	Cols int
}

func (s Shape) String() string {
	return fmt.Sprintf("[%d,%d]", s.Rows, s.Cols)
}

// Size returns Rows*Cols.
func (s Shape) Size() int {
	return s.Rows * s.Cols
}

// ShapeError reports an operand whose shape differs from the expected one.
type ShapeError struct {
	Op   string
	Want Shape
	Got  Shape
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s: want %s, got %s", e.Op, ErrShapeMismatch, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error {
	return ErrShapeMismatch
}

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// New allocates a zeroed rows x cols matrix.
func New(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// FromData wraps data as a rows x cols matrix without copying.
func FromData(rows, cols int, data []float32) (*Matrix, error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("tensor: %w: %d values for shape [%d,%d]", ErrShapeMismatch, len(data), rows, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: data}, nil
}

// FromRows copies equally sized rows into a new matrix.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}

	cols := len(rows[0])
	m := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("tensor: %w: row %d has %d values, want %d", ErrShapeMismatch, i, len(r), cols)
		}
		copy(m.Data[i*cols:(i+1)*cols], r)
	}
	return m, nil
}

// Shape returns the matrix extent.
func (m *Matrix) Shape() Shape {
	return Shape{Rows: m.Rows, Cols: m.Cols}
}

// Row returns row i as a slice aliasing the matrix storage.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// At returns the element at (i, j).
func (m *Matrix) At(i, j int) float32 {
	return m.Data[i*m.Cols+j]
}

// Set sets the element at (i, j).
func (m *Matrix) Set(i, j int, v float32) {
	m.Data[i*m.Cols+j] = v
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	data := make([]float32, len(m.Data))
	copy(data, m.Data)
	return &Matrix{Rows: m.Rows, Cols: m.Cols, Data: data}
}

// Gather returns a new matrix made of the given rows, in order.
func (m *Matrix) Gather(idx []int) *Matrix {
	out := New(len(idx), m.Cols)
	for i, r := range idx {
		copy(out.Row(i), m.Row(r))
	}
	return out
}

// Dense converts the matrix to a gonum float64 matrix.
func (m *Matrix) Dense() *mat.Dense {
	data := make([]float64, len(m.Data))
	for i, v := range m.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(m.Rows, m.Cols, data)
}

// FromDense converts a gonum matrix to float32.
func FromDense(d mat.Matrix) *Matrix {
	r, c := d.Dims()
	m := New(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Data[i*c+j] = float32(d.At(i, j))
		}
	}
	return m
}

// Expect returns a *ShapeError when m does not have shape want.
// A zero Rows or Cols in want matches any extent along that axis.
func Expect(op string, m *Matrix, want Shape) error {
	got := m.Shape()
	if (want.Rows != 0 && got.Rows != want.Rows) || (want.Cols != 0 && got.Cols != want.Cols) {
		return &ShapeError{Op: op, Want: want, Got: got}
	}
	return nil
}
