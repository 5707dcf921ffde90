package condition

import (
	"regexp"
	"strings"
)

const (
	// MaxConditionLength bounds the size of a single condition
	MaxConditionLength = 8 << 10

	// MaxNestingDepth bounds parenthesis and array nesting
	MaxNestingDepth = 64
)

// method names callable on an operand
const (
	methodToLowerCase = "toLowerCase"
	methodIncludes    = "includes"
	methodMatch       = "match"
)

type parser struct {
	src   string
	toks  []token
	pos   int
	depth int
	paths []string
	seen  map[string]bool
}

// parse builds the expression tree for src
func parse(src string) (node, []string, *ConditionError) {
	if len(src) > MaxConditionLength {
		return nil, nil, parseError(src, MaxConditionLength, "condition exceeds %d bytes", MaxConditionLength)
	}
	if strings.TrimSpace(src) == "" {
		return nil, nil, parseError(src, 0, "empty condition")
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{src: src, toks: toks, seen: make(map[string]bool)}
	root, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if tok := p.peek(); tok.typ != tokEOF {
		return nil, nil, parseError(src, tok.pos, "unexpected %s %q", tok.typ, tok.text)
	}
	return root, p.paths, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	tok := p.toks[p.pos]
	if tok.typ != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(typ tokenType) (token, *ConditionError) {
	tok := p.advance()
	if tok.typ != typ {
		return tok, p.unexpected(tok, typ.String())
	}
	return tok, nil
}

func (p *parser) unexpected(tok token, want string) *ConditionError {
	if tok.typ == tokEOF {
		return parseError(p.src, tok.pos, "unexpected end of condition, expected %s", want)
	}
	return parseError(p.src, tok.pos, "unexpected %s %q, expected %s", tok.typ, tok.text, want)
}

func (p *parser) enter(tok token) *ConditionError {
	p.depth++
	if p.depth > MaxNestingDepth {
		return parseError(p.src, tok.pos, "nesting deeper than %d levels", MaxNestingDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// or := and ('||' and)*
func (p *parser) parseOr() (node, *ConditionError) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

// and := comparison ('&&' comparison)*
func (p *parser) parseAnd() (node, *ConditionError) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokAnd {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

// comparison := postfix (('===' | '!==') postfix)?
func (p *parser) parseComparison() (node, *ConditionError) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	switch op := p.peek(); op.typ {
	case tokStrictEq, tokStrictNeq:
		p.advance()
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return &compareNode{negate: op.typ == tokStrictNeq, left: left, right: right}, nil
	}
	return left, nil
}

// postfix := primary ('.' method)*
func (p *parser) parsePostfix() (node, *ConditionError) {
	recv, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokDot {
		p.advance()
		name := p.advance()
		if name.typ != tokIdent {
			return nil, p.unexpected(name, "method name")
		}
		if _, err := p.expect(tokLParen); err != nil {
			return nil, err
		}
		switch name.str {
		case methodToLowerCase:
			if _, err := p.expect(tokRParen); err != nil {
				return nil, err
			}
			recv = &lowerNode{pos: name.pos, recv: recv}
		case methodIncludes:
			arg, err := p.parsePostfix()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen); err != nil {
				return nil, err
			}
			recv = &includesNode{pos: name.pos, recv: recv, arg: arg}
		case methodMatch:
			re, err := p.parsePattern()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen); err != nil {
				return nil, err
			}
			recv = &matchNode{pos: name.pos, recv: recv, re: re}
		default:
			return nil, parseError(p.src, name.pos, "unsupported method %q", name.str)
		}
	}
	return recv, nil
}

// parsePattern reads the fixed argument of match(). Matching is always case
// insensitive.
func (p *parser) parsePattern() (*regexp.Regexp, *ConditionError) {
	tok := p.advance()
	var pattern string
	switch tok.typ {
	case tokRegex:
		for _, f := range tok.flags {
			switch f {
			case 'i', 'g', 'm', 's':
			default:
				return nil, parseError(p.src, tok.pos, "unsupported regex flag %q", f)
			}
		}
		pattern = tok.str
		if strings.ContainsRune(tok.flags, 'm') {
			pattern = "(?m)" + pattern
		}
		if strings.ContainsRune(tok.flags, 's') {
			pattern = "(?s)" + pattern
		}
	case tokString:
		pattern = tok.str
	default:
		return nil, p.unexpected(tok, "regex or string pattern")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, parseError(p.src, tok.pos, "invalid pattern: %v", err)
	}
	return re, nil
}

// primary := literal | placeholder | '(' or ')' | '[' literal (',' literal)* ']'
func (p *parser) parsePrimary() (node, *ConditionError) {
	tok := p.advance()
	switch tok.typ {
	case tokString:
		return &literalNode{val: String(tok.str)}, nil
	case tokNumber:
		return &literalNode{val: Number(tok.num)}, nil
	case tokTrue:
		return &literalNode{val: Bool(true)}, nil
	case tokFalse:
		return &literalNode{val: Bool(false)}, nil
	case tokNull:
		return &literalNode{val: Null()}, nil
	case tokPlaceholder:
		if !p.seen[tok.str] {
			p.seen[tok.str] = true
			p.paths = append(p.paths, tok.str)
		}
		return &placeholderNode{path: tok.str}, nil
	case tokLParen:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		p.leave()
		return inner, nil
	case tokLBracket:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		arr, err := p.parseArray()
		if err != nil {
			return nil, err
		}
		p.leave()
		return arr, nil
	case tokIdent:
		return nil, parseError(p.src, tok.pos, "identifier %q is not allowed; use {{path}} to reference data", tok.str)
	default:
		return nil, p.unexpected(tok, "operand")
	}
}

func (p *parser) parseArray() (node, *ConditionError) {
	var elems []Value
	if p.peek().typ == tokRBracket {
		p.advance()
		return &literalNode{val: Array()}, nil
	}
	for {
		el, err := p.parseArrayElem()
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
		switch tok := p.advance(); tok.typ {
		case tokComma:
			continue
		case tokRBracket:
			return &literalNode{val: Array(elems...)}, nil
		default:
			return nil, p.unexpected(tok, "',' or ']'")
		}
	}
}

func (p *parser) parseArrayElem() (Value, *ConditionError) {
	tok := p.peek()
	switch tok.typ {
	case tokString:
		p.advance()
		return String(tok.str), nil
	case tokNumber:
		p.advance()
		return Number(tok.num), nil
	case tokTrue:
		p.advance()
		return Bool(true), nil
	case tokFalse:
		p.advance()
		return Bool(false), nil
	case tokNull:
		p.advance()
		return Null(), nil
	case tokLBracket:
		p.advance()
		if err := p.enter(tok); err != nil {
			return Value{}, err
		}
		n, err := p.parseArray()
		if err != nil {
			return Value{}, err
		}
		p.leave()
		return n.(*literalNode).val, nil
	default:
		p.advance()
		return Value{}, p.unexpected(tok, "literal array element")
	}
}
