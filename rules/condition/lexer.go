package condition

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokPlaceholder
	tokString
	tokNumber
	tokTrue
	tokFalse
	tokNull
	tokRegex
	tokIdent
	tokOr
	tokAnd
	tokStrictEq
	tokStrictNeq
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
)

func (t tokenType) String() string {
	switch t {
	case tokEOF:
		return "end of condition"
	case tokPlaceholder:
		return "placeholder"
	case tokString:
		return "string literal"
	case tokNumber:
		return "number literal"
	case tokTrue, tokFalse:
		return "boolean literal"
	case tokNull:
		return "null"
	case tokRegex:
		return "regex literal"
	case tokIdent:
		return "identifier"
	case tokOr:
		return "'||'"
	case tokAnd:
		return "'&&'"
	case tokStrictEq:
		return "'==='"
	case tokStrictNeq:
		return "'!=='"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	case tokComma:
		return "','"
	case tokDot:
		return "'.'"
	default:
		return "token"
	}
}

type token struct {
	typ   tokenType
	pos   int // start offset
	end   int // offset just past the token
	text  string
	str   string  // decoded string, placeholder path, regex pattern
	num   float64 // decoded number
	flags string  // regex flags
}

type lexer struct {
	src string
	pos int
}

// tokenize splits src into tokens. Lexing stops at the first error; the
// tokens read so far are returned alongside it.
func tokenize(src string) ([]token, *ConditionError) {
	lx := &lexer{src: src}
	var toks []token
	for {
		tok, err := lx.next()
		if err != nil {
			return toks, err
		}
		toks = append(toks, tok)
		if tok.typ == tokEOF {
			return toks, nil
		}
	}
}

func (lx *lexer) next() (token, *ConditionError) {
	lx.skipSpace()
	start := lx.pos
	if lx.pos >= len(lx.src) {
		return token{typ: tokEOF, pos: start, end: start}, nil
	}

	c := lx.src[lx.pos]
	switch {
	case strings.HasPrefix(lx.src[lx.pos:], "{{"):
		return lx.placeholder()
	case c == '\'' || c == '"':
		return lx.stringLit(c)
	case c == '/':
		return lx.regexLit()
	case isDigit(c) || (c == '-' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1])):
		return lx.number()
	case isIdentStart(c):
		return lx.ident(), nil
	case strings.HasPrefix(lx.src[lx.pos:], "==="):
		return lx.emit(tokStrictEq, 3), nil
	case strings.HasPrefix(lx.src[lx.pos:], "!=="):
		return lx.emit(tokStrictNeq, 3), nil
	case strings.HasPrefix(lx.src[lx.pos:], "&&"):
		return lx.emit(tokAnd, 2), nil
	case strings.HasPrefix(lx.src[lx.pos:], "||"):
		return lx.emit(tokOr, 2), nil
	case c == '(':
		return lx.emit(tokLParen, 1), nil
	case c == ')':
		return lx.emit(tokRParen, 1), nil
	case c == '[':
		return lx.emit(tokLBracket, 1), nil
	case c == ']':
		return lx.emit(tokRBracket, 1), nil
	case c == ',':
		return lx.emit(tokComma, 1), nil
	case c == '.':
		return lx.emit(tokDot, 1), nil
	}

	r, _ := utf8.DecodeRuneInString(lx.src[lx.pos:])
	return token{}, parseError(lx.src, start, "unexpected character %q", r)
}

func (lx *lexer) emit(typ tokenType, n int) token {
	tok := token{typ: typ, pos: lx.pos, end: lx.pos + n, text: lx.src[lx.pos : lx.pos+n]}
	lx.pos += n
	return tok
}

func (lx *lexer) skipSpace() {
	for lx.pos < len(lx.src) {
		switch lx.src[lx.pos] {
		case ' ', '\t', '\n', '\r':
			lx.pos++
		default:
			return
		}
	}
}

func (lx *lexer) placeholder() (token, *ConditionError) {
	start := lx.pos
	closeIdx := strings.Index(lx.src[start+2:], "}}")
	if closeIdx < 0 {
		return token{}, parseError(lx.src, start, "unterminated placeholder")
	}
	end := start + 2 + closeIdx + 2
	path := strings.TrimSpace(lx.src[start+2 : end-2])
	if !validPath(path) {
		return token{}, parseError(lx.src, start, "invalid placeholder path %q", path)
	}
	lx.pos = end
	return token{typ: tokPlaceholder, pos: start, end: end, text: lx.src[start:end], str: path}, nil
}

func validPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return false
		}
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			if !(isIdentStart(c) || isDigit(c) || c == '-') {
				return false
			}
		}
	}
	return true
}

func (lx *lexer) stringLit(quoteChar byte) (token, *ConditionError) {
	start := lx.pos
	lx.pos++
	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == quoteChar:
			lx.pos++
			return token{typ: tokString, pos: start, end: lx.pos, text: lx.src[start:lx.pos], str: sb.String()}, nil
		case c == '\\':
			if lx.pos+1 >= len(lx.src) {
				return token{}, parseError(lx.src, lx.pos, "unterminated escape sequence")
			}
			esc := lx.src[lx.pos+1]
			switch esc {
			case '\\', '\'', '"', '/':
				sb.WriteByte(esc)
				lx.pos += 2
			case 'n':
				sb.WriteByte('\n')
				lx.pos += 2
			case 'r':
				sb.WriteByte('\r')
				lx.pos += 2
			case 't':
				sb.WriteByte('\t')
				lx.pos += 2
			case 'u':
				if lx.pos+6 > len(lx.src) {
					return token{}, parseError(lx.src, lx.pos, "truncated unicode escape")
				}
				code, err := strconv.ParseUint(lx.src[lx.pos+2:lx.pos+6], 16, 32)
				if err != nil {
					return token{}, parseError(lx.src, lx.pos, "invalid unicode escape %q", lx.src[lx.pos:lx.pos+6])
				}
				sb.WriteRune(rune(code))
				lx.pos += 6
			case 'x':
				if lx.pos+4 > len(lx.src) {
					return token{}, parseError(lx.src, lx.pos, "truncated byte escape")
				}
				b, err := strconv.ParseUint(lx.src[lx.pos+2:lx.pos+4], 16, 8)
				if err != nil {
					return token{}, parseError(lx.src, lx.pos, "invalid byte escape %q", lx.src[lx.pos:lx.pos+4])
				}
				sb.WriteByte(byte(b))
				lx.pos += 4
			default:
				return token{}, parseError(lx.src, lx.pos, "unsupported escape sequence \\%c", esc)
			}
		case c == '\n':
			return token{}, parseError(lx.src, lx.pos, "newline in string literal")
		default:
			sb.WriteByte(c)
			lx.pos++
		}
	}
	return token{}, parseError(lx.src, start, "unterminated string literal")
}

func (lx *lexer) regexLit() (token, *ConditionError) {
	start := lx.pos
	lx.pos++
	var sb strings.Builder
	inClass := false
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\\':
			if lx.pos+1 >= len(lx.src) {
				return token{}, parseError(lx.src, lx.pos, "unterminated regex escape")
			}
			if lx.src[lx.pos+1] == '/' {
				sb.WriteByte('/')
			} else {
				sb.WriteString(lx.src[lx.pos : lx.pos+2])
			}
			lx.pos += 2
			continue
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			lx.pos++
			flagStart := lx.pos
			for lx.pos < len(lx.src) && isLetter(lx.src[lx.pos]) {
				lx.pos++
			}
			return token{
				typ:   tokRegex,
				pos:   start,
				end:   lx.pos,
				text:  lx.src[start:lx.pos],
				str:   sb.String(),
				flags: lx.src[flagStart:lx.pos],
			}, nil
		case c == '\n':
			return token{}, parseError(lx.src, lx.pos, "newline in regex literal")
		}
		sb.WriteByte(c)
		lx.pos++
	}
	return token{}, parseError(lx.src, start, "unterminated regex literal")
}

func (lx *lexer) number() (token, *ConditionError) {
	start := lx.pos
	if lx.src[lx.pos] == '-' {
		lx.pos++
	}
	lx.digits()
	if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1]) {
		lx.pos++
		lx.digits()
	}
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == 'e' || lx.src[lx.pos] == 'E') {
		save := lx.pos
		lx.pos++
		if lx.pos < len(lx.src) && (lx.src[lx.pos] == '+' || lx.src[lx.pos] == '-') {
			lx.pos++
		}
		if lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.digits()
		} else {
			lx.pos = save
		}
	}
	if lx.pos < len(lx.src) && isIdentStart(lx.src[lx.pos]) {
		return token{}, parseError(lx.src, start, "malformed number literal")
	}
	text := lx.src[start:lx.pos]
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, parseError(lx.src, start, "malformed number literal %q", text)
	}
	return token{typ: tokNumber, pos: start, end: lx.pos, text: text, num: n}, nil
}

func (lx *lexer) digits() {
	for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
		lx.pos++
	}
}

func (lx *lexer) ident() token {
	start := lx.pos
	for lx.pos < len(lx.src) && (isIdentStart(lx.src[lx.pos]) || isDigit(lx.src[lx.pos])) {
		lx.pos++
	}
	text := lx.src[start:lx.pos]
	tok := token{typ: tokIdent, pos: start, end: lx.pos, text: text, str: text}
	switch text {
	case "true":
		tok.typ = tokTrue
	case "false":
		tok.typ = tokFalse
	case "null":
		tok.typ = tokNull
	}
	return tok
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isIdentStart(c byte) bool { return isLetter(c) || c == '_' || c == '$' }
