package fixer

// maskCode returns a copy of JavaScript source with the bodies of comments
// and string, template and character literals replaced by spaces. Quote
// characters and newlines are kept, so offsets and line numbers line up
// with the original. Regex literals are not recognized.
func maskCode(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)

	blank := func(from, to int) {
		for k := from; k < to && k < len(out); k++ {
			if out[k] != '\n' {
				out[k] = ' '
			}
		}
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			j := i
			for j < len(src) && src[j] != '\n' {
				j++
			}
			blank(i, j)
			i = j
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			j := i + 2
			for j+1 < len(src) && !(src[j] == '*' && src[j+1] == '/') {
				j++
			}
			end := j + 2
			if end > len(src) {
				end = len(src)
			}
			blank(i, end)
			i = end
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				} else if src[j] == '\n' && c != '`' {
					break
				}
				j++
			}
			blank(i+1, j)
			i = j + 1
		default:
			i++
		}
	}
	return out
}

// matchingClose returns the index of the bracket closing the one at open,
// or -1. masked must come from maskCode.
func matchingClose(masked []byte, open int) int {
	if open < 0 || open >= len(masked) {
		return -1
	}
	var closer byte
	switch masked[open] {
	case '{':
		closer = '}'
	case '(':
		closer = ')'
	case '[':
		closer = ']'
	default:
		return -1
	}
	opener := masked[open]
	depth := 0
	for i := open; i < len(masked); i++ {
		switch masked[i] {
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// braceDepth returns the curly-brace nesting depth at pos.
func braceDepth(masked []byte, pos int) int {
	depth := 0
	for i := 0; i < pos && i < len(masked); i++ {
		switch masked[i] {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth
}
