package pptx

import (
	"strings"
	"testing"
	"testing/quick"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func batchSizes(batches [][]*TranslatableUnit) [][]int {
	out := make([][]int, len(batches))
	for i, b := range batches {
		for _, u := range b {
			out[i] = append(out[i], utf8.RuneCountInString(u.SourceText))
		}
	}
	return out
}

func TestMakeBatches(t *testing.T) {
	tests := []struct {
		name   string
		sizes  []int
		budget int
		want   [][]int
	}{
		{"each unit alone", []int{100, 100, 100}, 150, [][]int{{100}, {100}, {100}}},
		{"pairs fit", []int{60, 60, 60}, 150, [][]int{{60, 60}, {60}}},
		{"exact fit", []int{50, 100, 10}, 150, [][]int{{50, 100}, {10}}},
		{"oversize unit alone", []int{10, 400, 10}, 150, [][]int{{10}, {400}, {10}}},
		{"empty", nil, 150, [][]int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			texts := make([]string, len(tt.sizes))
			for i, n := range tt.sizes {
				texts[i] = strings.Repeat("x", n)
			}
			got := batchSizes(MakeBatches(unitsOf(texts...), tt.budget))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMakeBatchesCountsRunes(t *testing.T) {
	units := unitsOf("äöü", "日本語", "ab")
	batches := MakeBatches(units, 6)
	assert.Equal(t, [][]int{{3, 3}, {2}}, batchSizes(batches))
}

func TestMakeBatchesProperties(t *testing.T) {
	check := func(lengths []uint8, budget uint8) bool {
		b := int(budget%200) + 1
		texts := make([]string, len(lengths))
		for i, n := range lengths {
			texts[i] = strings.Repeat("a", int(n%50)+1)
		}
		units := unitsOf(texts...)
		batches := MakeBatches(units, b)

		// order and identity preserved
		var flat []*TranslatableUnit
		for _, batch := range batches {
			if len(batch) == 0 {
				return false
			}
			// only single-unit batches may exceed the budget
			if len(batch) > 1 && batchChars(batch) > b {
				return false
			}
			flat = append(flat, batch...)
		}
		if len(flat) != len(units) {
			return false
		}
		for i := range units {
			if flat[i] != units[i] {
				return false
			}
		}
		// greedy: the first unit of the next batch did not fit
		for i := 1; i < len(batches); i++ {
			next := utf8.RuneCountInString(batches[i][0].SourceText)
			if batchChars(batches[i-1])+next <= b {
				return false
			}
		}
		return true
	}
	assert.NoError(t, quick.Check(check, nil))
}

func TestUniqueAndBroadcast(t *testing.T) {
	units := unitsOf("Hello", "World", "Hello", "Again", "World")
	unique := UniqueBySource(units)

	ids := make([]string, len(unique))
	for i, u := range unique {
		ids[i] = u.ID
	}
	assert.Equal(t, []string{"t1", "t2", "t4"}, ids)

	out := BroadcastBySource(units, unique, map[string]string{
		"t1": "Hallo",
		"t2": "Welt",
	})
	assert.Equal(t, map[string]string{
		"t1": "Hallo",
		"t2": "Welt",
		"t3": "Hallo",
		"t5": "Welt",
	}, out)
}
