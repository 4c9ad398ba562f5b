package backup

// Union merges two table lists. The result starts as a copy of existing in
// its original order; members of incoming that are not already present are
// appended in input order. Pure: neither argument is modified.
func Union(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, t := range existing {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}
	for _, t := range incoming {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}
	return merged
}

// Difference returns existing with every member of toRemove taken out,
// order preserved. Pure: neither argument is modified.
func Difference(existing, toRemove []string) []string {
	drop := make(map[string]struct{}, len(toRemove))
	for _, t := range toRemove {
		drop[t] = struct{}{}
	}
	remaining := make([]string, 0, len(existing))
	for _, t := range existing {
		if _, ok := drop[t]; ok {
			continue
		}
		remaining = append(remaining, t)
	}
	return remaining
}
