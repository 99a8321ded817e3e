package chunking

const DefaultMaxChars = 12000

// Splitter cuts text into chunks of at most MaxChars runes. Chunks prefer to
// end on a line break found in the second half of the window, and their
// concatenation always equals the input.
type Splitter struct {
	MaxChars int
}

func NewSplitter(maxChars int) *Splitter {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Splitter{MaxChars: maxChars}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.MaxChars+1)
	for start := 0; start < len(runes); {
		end := start + s.MaxChars
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		end = s.lineBreakBefore(runes, start, end)
		out = append(out, string(runes[start:end]))
		start = end
	}
	return out
}

func (s *Splitter) lineBreakBefore(runes []rune, start, end int) int {
	floor := start + s.MaxChars/2
	for i := end - 1; i > floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	return end
}
