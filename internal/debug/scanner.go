package debug

import "strings"

// tokenKind classifies condition tokens.
type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenOperator
	tokenVariable
)

// token is one lexical element of a breakpoint condition.
type token struct {
	kind tokenKind
	text string
}

// scanCondition tokenizes a PowerShell condition expression far enough
// to find keywords and comparison operators. Quoted strings (single and
// double, including doubled-quote escapes and backtick escapes),
// here-strings, and comments are skipped so that text inside them never
// counts as a keyword or operator.
func scanCondition(src string) []token {
	var tokens []token
	runes := []rune(src)
	i := 0
	n := len(runes)

	isWordStart := func(r rune) bool {
		return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	}
	isWord := func(r rune) bool {
		return isWordStart(r) || (r >= '0' && r <= '9')
	}
	isOp := func(r rune) bool {
		return r == '=' || r == '!' || r == '<' || r == '>'
	}

	for i < n {
		r := runes[i]
		switch {
		case r == '\'':
			i = skipQuoted(runes, i, '\'')

		case r == '"':
			i = skipQuoted(runes, i, '"')

		case r == '@' && i+1 < n && (runes[i+1] == '\'' || runes[i+1] == '"'):
			i = skipHereString(runes, i)

		case r == '#':
			// Line comment runs to end of line.
			for i < n && runes[i] != '\n' {
				i++
			}

		case r == '<' && i+1 < n && runes[i+1] == '#':
			// Block comment.
			i += 2
			for i+1 < n && !(runes[i] == '#' && runes[i+1] == '>') {
				i++
			}
			i += 2

		case r == '`':
			// Backtick escapes the next character.
			i += 2

		case r == '$':
			// Variable; the name is never a keyword.
			i++
			start := i
			for i < n && isWord(runes[i]) {
				i++
			}
			if i > start {
				tokens = append(tokens, token{kind: tokenVariable, text: string(runes[start:i])})
			}

		case isOp(r):
			start := i
			for i < n && isOp(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenOperator, text: string(runes[start:i])})

		case isWordStart(r):
			start := i
			for i < n && isWord(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: string(runes[start:i])})

		default:
			i++
		}
	}

	return tokens
}

// skipQuoted advances past a quoted string starting at runes[start].
// Doubled quotes and backtick escapes (inside double quotes) stay in
// the string.
func skipQuoted(runes []rune, start int, quote rune) int {
	i := start + 1
	n := len(runes)
	for i < n {
		switch {
		case runes[i] == '`' && quote == '"':
			i += 2
		case runes[i] == quote:
			if i+1 < n && runes[i+1] == quote {
				i += 2 // doubled quote escape
				continue
			}
			return i + 1
		default:
			i++
		}
	}
	return n
}

// skipHereString advances past an @'...'@ or @"..."@ here-string.
func skipHereString(runes []rune, start int) int {
	quote := runes[start+1]
	terminator := string([]rune{quote, '@'})
	rest := string(runes[start+2:])
	idx := strings.Index(rest, terminator)
	if idx < 0 {
		return len(runes)
	}
	return start + 2 + idx + len(terminator)
}

// containsBreakOrContinue reports whether the condition contains a
// break or continue keyword anywhere outside strings and comments.
// Conditions like this drive the debugger directly and are passed
// through unwrapped.
func containsBreakOrContinue(cond string) bool {
	for _, tok := range scanCondition(cond) {
		if tok.kind != tokenWord {
			continue
		}
		switch strings.ToLower(tok.text) {
		case "break", "continue":
			return true
		}
	}
	return false
}

// operatorHints maps C-style comparison operators to their PowerShell
// equivalents, longest first so ">=" is found before ">".
var operatorHints = []struct {
	mistaken string
	correct  string
}{
	{"==", "-eq"},
	{"!=", "-ne"},
	{">=", "-ge"},
	{"<=", "-le"},
	{">", "-gt"},
	{"<", "-lt"},
}

// findMistakenOperator returns the first C-style comparison operator
// used in the condition and its PowerShell replacement.
func findMistakenOperator(cond string) (mistaken, correct string, found bool) {
	for _, tok := range scanCondition(cond) {
		if tok.kind != tokenOperator {
			continue
		}
		for _, hint := range operatorHints {
			if strings.Contains(tok.text, hint.mistaken) {
				return hint.mistaken, hint.correct, true
			}
		}
	}
	return "", "", false
}
