package helpers

func DedupeStrings(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range in {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}

// returns "s" unless n is exactly one
func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// returns "is" for exactly one, otherwise "are"
func IsAre(n int) string {
	if n == 1 {
		return "is"
	}
	return "are"
}
