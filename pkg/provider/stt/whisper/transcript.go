package whisper

import "strings"

// cleanTranscript joins whisper segments into one utterance. Segments that
// are only a non-speech annotation, such as "[BLANK_AUDIO]" or "(phone
// ringing)", are dropped, so a silent turn comes back as "".
func cleanTranscript(segments ...string) string {
	words := make([]string, 0, len(segments)*8)
	for _, seg := range segments {
		for _, part := range splitAnnotations(seg) {
			words = append(words, strings.Fields(part)...)
		}
	}
	return strings.Join(words, " ")
}

// splitAnnotations returns s with every [...] and (...) span removed, split
// at the removed spans. An unclosed bracket keeps the rest of s as text.
func splitAnnotations(s string) []string {
	var out []string
	for {
		i := strings.IndexAny(s, "[(")
		if i < 0 {
			return append(out, s)
		}
		closer := "]"
		if s[i] == '(' {
			closer = ")"
		}
		j := strings.Index(s[i:], closer)
		if j < 0 {
			return append(out, s)
		}
		out = append(out, s[:i])
		s = s[i+j+1:]
	}
}
