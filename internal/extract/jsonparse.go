package extract

import (
	"fmt"
	"strings"
)

// FirstJSONObject returns the first balanced top-level {...} region in s.
// Model responses frequently wrap the document in prose or code fences; a
// balanced scan is robust where a greedy regex is not.
func FirstJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}
