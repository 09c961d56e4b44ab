package thresholds

import "sort"

// DetectOverlap returns the first active threshold, in ascending MinValue
// order, whose range overlaps candidate. excludeID skips the threshold being
// edited; pass 0 on create.
func DetectOverlap(existing []Threshold, candidate Range, excludeID int64) *Threshold {
	for _, t := range activeSorted(existing) {
		if excludeID != 0 && t.ID == excludeID {
			continue
		}
		if t.Range.Overlaps(candidate) {
			conflict := t
			return &conflict
		}
	}
	return nil
}

func activeSorted(in []Threshold) []Threshold {
	out := make([]Threshold, 0, len(in))
	for _, t := range in {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Range.Min.LessThan(out[j].Range.Min)
	})
	return out
}
