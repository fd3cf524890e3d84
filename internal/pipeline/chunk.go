package pipeline

// Chunk splits items into contiguous chunks of ceil(len(items)/workers) elements.
// The chunk size is never zero, no chunk is empty, and every item appears exactly once.
func Chunk[T any](items []T, workers int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	size := (len(items) + workers - 1) / workers
	if size < 1 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
