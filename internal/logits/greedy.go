package logits

import (
	"fmt"
	"math"
)

// Argmax returns the index of the largest value. Ties resolve to the lowest
// index and NaN entries are never chosen. It returns -1 for an empty slice.
func Argmax(x []float32) int {
	bestI := -1
	bestV := float32(math.Inf(-1))
	for i, v := range x {
		if v != v {
			continue
		}
		if bestI < 0 || v > bestV {
			bestV = v
			bestI = i
		}
	}
	return bestI
}

// Row returns row i of a row-major matrix holding rows of width cols.
func Row(data []float32, cols, i int) ([]float32, error) {
	if cols <= 0 || len(data)%cols != 0 {
		return nil, fmt.Errorf("logits length %d is not a multiple of vocab size %d", len(data), cols)
	}
	rows := len(data) / cols
	if i < 0 || i >= rows {
		return nil, fmt.Errorf("logits row %d out of range (%d rows)", i, rows)
	}
	return data[i*cols : (i+1)*cols], nil
}

// PickNext is greedy next-token selection over a logits tensor whose last
// dimension is the vocabulary. position selects the row of the last real
// token; it is clamped to the available rows.
func PickNext(data []float32, vocab, position int) (int, error) {
	if vocab <= 0 {
		vocab = len(data)
	}
	rows := 0
	if vocab > 0 {
		rows = len(data) / vocab
	}
	if rows == 0 {
		return 0, fmt.Errorf("empty logits (len %d, vocab %d)", len(data), vocab)
	}
	position = min(max(position, 0), rows-1)
	row, err := Row(data, vocab, position)
	if err != nil {
		return 0, err
	}
	id := Argmax(row)
	if id < 0 {
		return 0, fmt.Errorf("logits row %d has no finite values", position)
	}
	return id, nil
}
