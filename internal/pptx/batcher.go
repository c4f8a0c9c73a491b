package pptx

import "unicode/utf8"

// MakeBatches groups units greedily in order. A unit joins the current batch
// unless the batch is non-empty and the unit would push it past budget
// characters; a unit larger than budget therefore forms a batch of its own.
func MakeBatches(units []*TranslatableUnit, budget int) [][]*TranslatableUnit {
	var (
		batches [][]*TranslatableUnit
		current []*TranslatableUnit
		size    int
	)
	for _, u := range units {
		n := utf8.RuneCountInString(u.SourceText)
		if len(current) > 0 && size+n > budget {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, u)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// batchChars returns the total character count of a batch
func batchChars(batch []*TranslatableUnit) int {
	n := 0
	for _, u := range batch {
		n += utf8.RuneCountInString(u.SourceText)
	}
	return n
}

// UniqueBySource returns the first unit for every distinct source text, in
// first-occurrence order
func UniqueBySource(units []*TranslatableUnit) []*TranslatableUnit {
	seen := make(map[string]struct{}, len(units))
	var unique []*TranslatableUnit
	for _, u := range units {
		if _, ok := seen[u.SourceText]; ok {
			continue
		}
		seen[u.SourceText] = struct{}{}
		unique = append(unique, u)
	}
	return unique
}

// BroadcastBySource expands translations of representative units (keyed by id)
// into a translation for every unit sharing the same source text
func BroadcastBySource(units, representatives []*TranslatableUnit, byID map[string]string) map[string]string {
	byText := make(map[string]string, len(representatives))
	for _, r := range representatives {
		if text, ok := byID[r.ID]; ok {
			byText[r.SourceText] = text
		}
	}

	out := make(map[string]string, len(units))
	for _, u := range units {
		if text, ok := byText[u.SourceText]; ok {
			out[u.ID] = text
		}
	}
	return out
}
