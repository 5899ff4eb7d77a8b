// Package storage holds helpers shared by the store implementations.
package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

const bytesPerFloat64 = 8

// EncodeVector converts a float64 slice to its little-endian binary form.
func EncodeVector(vector []float64) []byte {
	buf := make([]byte, len(vector)*bytesPerFloat64)
	for i, f := range vector {
		binary.LittleEndian.PutUint64(buf[i*bytesPerFloat64:], math.Float64bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(buf []byte) ([]float64, error) {
	if len(buf)%bytesPerFloat64 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of %d", len(buf), bytesPerFloat64)
	}
	vector := make([]float64, len(buf)/bytesPerFloat64)
	for i := range vector {
		vector[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*bytesPerFloat64:]))
	}
	return vector, nil
}

// CopyVector returns an independent copy of vector.
func CopyVector(vector []float64) []float64 {
	if vector == nil {
		return nil
	}
	return append([]float64(nil), vector...)
}
