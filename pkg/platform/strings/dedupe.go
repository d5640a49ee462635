package strings

// Dedupe returns s with duplicates removed, preserving first-seen order.
// Group lists coming out of directory entries routinely repeat names.
func Dedupe(s []string) []string {
	if len(s) < 2 {
		return s
	}
	seen := make(map[string]struct{}, len(s))
	out := s[:0:0]
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
