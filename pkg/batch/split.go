package batch

// SplitFactor is how far past the optimal size a batch may grow before
// Split breaks it up.
const SplitFactor = 1.5

// Split breaks items into chunks of at most optimal elements when the
// input exceeds SplitFactor times optimal. Smaller inputs are returned as a
// single chunk. The chunks share the backing array of items.
func Split[T any](items []T, optimal int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if optimal <= 0 || float64(len(items)) <= SplitFactor*float64(optimal) {
		return [][]T{items}
	}

	chunks := make([][]T, 0, (len(items)+optimal-1)/optimal)
	for start := 0; start < len(items); start += optimal {
		end := start + optimal
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
