package datalist

import "fmt"

// Chunk splits keys into contiguous batches of at most size keys each,
// preserving the original order. Every key lands in exactly one batch;
// the last batch may be smaller. Empty input yields zero batches.
func Chunk(keys []Key, size int) ([][]Key, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch size must be >= 1 (got %d)", size)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	batches := make([][]Key, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		batches = append(batches, keys[start:end:end])
	}
	return batches, nil
}
