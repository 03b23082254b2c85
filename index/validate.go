package index

// ValidateBatch checks a write batch before any item is stored.
func ValidateBatch(dim int, vectors [][]float32, ids []int64) error {
	if len(vectors) != len(ids) {
		return ErrLengthMismatch
	}
	for _, v := range vectors {
		if len(v) != dim {
			return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
		}
	}
	return nil
}

// ValidateQueries checks a query batch.
func ValidateQueries(dim int, queries [][]float32, k int) error {
	if k <= 0 {
		return ErrInvalidK
	}
	for _, q := range queries {
		if len(q) != dim {
			return &ErrDimensionMismatch{Expected: dim, Actual: len(q)}
		}
	}
	return nil
}

// EmptyResults is the answer of an index that holds no data yet.
func EmptyResults(queries int) [][]Result {
	return make([][]Result, queries)
}
