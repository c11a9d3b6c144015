package solver

import (
	"fmt"

	"github.com/san-kum/pinnflow/internal/tensor"
)

// ShardRange returns the contiguous row range [lo, hi) owned by rank out of n rows.
func ShardRange(n, rank, nranks int) (lo, hi int) {
	return rank * n / nranks, (rank + 1) * n / nranks
}

func checkRank(rank, nranks int) error {
	if nranks < 1 {
		return fmt.Errorf("nranks must be at least 1, got %d", nranks)
	}
	if rank < 0 || rank >= nranks {
		return fmt.Errorf("rank %d out of range [0, %d)", rank, nranks)
	}
	return nil
}

// DataParallelPartition gives rank its contiguous shard of every array. Shards
// of all ranks are disjoint and, concatenated in rank order, reproduce the input.
func DataParallelPartition(arrays []tensor.Array, rank, nranks int) ([]tensor.Array, error) {
	if err := checkRank(rank, nranks); err != nil {
		return nil, err
	}
	out := make([]tensor.Array, len(arrays))
	for i, a := range arrays {
		if a.Rank() == 0 {
			return nil, fmt.Errorf("partition: array %d is a scalar", i)
		}
		lo, hi := ShardRange(a.Len(), rank, nranks)
		out[i] = a.Rows(lo, hi).Clone()
	}
	return out, nil
}
