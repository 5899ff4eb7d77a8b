package storage_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conductor/internal/domain"
	"github.com/davidbz/conductor/internal/storage"
)

func TestVectorCodec(t *testing.T) {
	t.Run("preserves full float64 precision", func(t *testing.T) {
		vector := []float64{0.1, -2.5, math.Pi, 1e-300, 0}

		decoded, err := storage.DecodeVector(storage.EncodeVector(vector))

		require.NoError(t, err)
		require.Equal(t, vector, decoded)
	})

	t.Run("rejects truncated blobs", func(t *testing.T) {
		_, err := storage.DecodeVector([]byte{1, 2, 3})
		require.Error(t, err)
	})

	t.Run("copy is independent", func(t *testing.T) {
		original := []float64{1, 2}
		copied := storage.CopyVector(original)
		copied[0] = 9

		require.InDelta(t, 1.0, original[0], 0)
		require.Nil(t, storage.CopyVector(nil))
	})
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name     string
		page     domain.Page
		expected []int
	}{
		{name: "zero size returns everything", page: domain.Page{}, expected: items},
		{name: "first page", page: domain.Page{Number: 1, Size: 2}, expected: []int{1, 2}},
		{name: "last partial page", page: domain.Page{Number: 3, Size: 2}, expected: []int{5}},
		{name: "past the end", page: domain.Page{Number: 4, Size: 2}, expected: []int{}},
		{name: "page zero treated as first", page: domain.Page{Number: 0, Size: 3}, expected: []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, storage.Paginate(items, tt.page))
		})
	}
}
