// Package condition implements the restricted boolean language used by rule
// trigger conditions.
//
// A condition references data with {{dotted.path}} placeholders and combines
// strict comparisons (===, !==) with && and ||. The only callable operations
// are toLowerCase(), includes(x) and match(/pattern/). There are no
// identifiers, property accesses or calls beyond that whitelist, so no value
// taken from the data context can change how a condition is parsed.
package condition

import (
	"regexp"
	"strings"
)

// Program is a compiled condition. It is immutable and safe for concurrent use.
type Program struct {
	src   string
	root  node
	paths []string
}

// Compile parses a condition. Placeholders are compiled as operands and bound
// to context values on each Eval.
func Compile(src string) (*Program, error) {
	root, paths, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{src: src, root: root, paths: paths}, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(src string) *Program {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the condition text the program was compiled from
func (p *Program) Source() string { return p.src }

// Paths returns the distinct placeholder paths in order of first appearance
func (p *Program) Paths() []string {
	out := make([]string, len(p.paths))
	copy(out, p.paths)
	return out
}

// Eval evaluates the program against ctx. Missing paths evaluate as null.
func (p *Program) Eval(ctx Context) (bool, error) {
	ev := &evaluator{src: p.src, ctx: ctx}
	v, err := p.root.eval(ev)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// Evaluate compiles and evaluates a condition in one step
func Evaluate(src string, ctx Context) (bool, error) {
	p, err := Compile(src)
	if err != nil {
		return false, err
	}
	return p.Eval(ctx)
}

// Substitute renders src with every {{path}} outside string literals replaced
// by the typed literal of the context value at that path. Missing paths render
// as null. Text after a lexical error is copied unchanged.
func Substitute(src string, ctx Context) string {
	toks, _ := tokenize(src)
	var sb strings.Builder
	cursor := 0
	for _, tok := range toks {
		if tok.typ != tokPlaceholder {
			continue
		}
		sb.WriteString(src[cursor:tok.pos])
		sb.WriteString(bind(ctx.Resolve(tok.str)).Literal())
		cursor = tok.end
	}
	sb.WriteString(src[cursor:])
	return sb.String()
}

// bind maps a context value to the operand a placeholder stands for. Objects
// have no literal form and bind as null.
func bind(v Value) Value {
	switch v.kind {
	case KindObject:
		return Null()
	case KindArray:
		elems := make([]Value, len(v.arr))
		for i, e := range v.arr {
			elems[i] = bind(e)
		}
		return Value{kind: KindArray, arr: elems}
	default:
		return v
	}
}

type evaluator struct {
	src string
	ctx Context
}

type node interface {
	eval(ev *evaluator) (Value, *ConditionError)
}

type literalNode struct {
	val Value
}

func (n *literalNode) eval(*evaluator) (Value, *ConditionError) { return n.val, nil }

type placeholderNode struct {
	path string
}

func (n *placeholderNode) eval(ev *evaluator) (Value, *ConditionError) {
	return bind(ev.ctx.Resolve(n.path)), nil
}

type orNode struct {
	left, right node
}

func (n *orNode) eval(ev *evaluator) (Value, *ConditionError) {
	l, err := n.left.eval(ev)
	if err != nil {
		return Value{}, err
	}
	if l.Truthy() {
		return Bool(true), nil
	}
	r, err := n.right.eval(ev)
	if err != nil {
		return Value{}, err
	}
	return Bool(r.Truthy()), nil
}

type andNode struct {
	left, right node
}

func (n *andNode) eval(ev *evaluator) (Value, *ConditionError) {
	l, err := n.left.eval(ev)
	if err != nil {
		return Value{}, err
	}
	if !l.Truthy() {
		return Bool(false), nil
	}
	r, err := n.right.eval(ev)
	if err != nil {
		return Value{}, err
	}
	return Bool(r.Truthy()), nil
}

type compareNode struct {
	negate      bool
	left, right node
}

func (n *compareNode) eval(ev *evaluator) (Value, *ConditionError) {
	l, err := n.left.eval(ev)
	if err != nil {
		return Value{}, err
	}
	r, err := n.right.eval(ev)
	if err != nil {
		return Value{}, err
	}
	return Bool(l.Equal(r) != n.negate), nil
}

type lowerNode struct {
	pos  int
	recv node
}

func (n *lowerNode) eval(ev *evaluator) (Value, *ConditionError) {
	v, err := n.recv.eval(ev)
	if err != nil {
		return Value{}, err
	}
	s, ok := v.Str()
	if !ok {
		return Value{}, typeError(ev.src, n.pos, "toLowerCase() called on %s", v.Kind())
	}
	return String(strings.ToLower(s)), nil
}

type includesNode struct {
	pos       int
	recv, arg node
}

func (n *includesNode) eval(ev *evaluator) (Value, *ConditionError) {
	v, err := n.recv.eval(ev)
	if err != nil {
		return Value{}, err
	}
	arg, err := n.arg.eval(ev)
	if err != nil {
		return Value{}, err
	}
	switch v.Kind() {
	case KindString:
		sub, ok := arg.Str()
		if !ok {
			return Value{}, typeError(ev.src, n.pos, "includes() on a string needs a string argument, got %s", arg.Kind())
		}
		return Bool(strings.Contains(v.str, sub)), nil
	case KindArray:
		for _, e := range v.arr {
			if e.Equal(arg) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case KindNull, KindNumber, KindBool, KindObject:
		return Value{}, typeError(ev.src, n.pos, "includes() called on %s", v.Kind())
	default:
		return Value{}, typeError(ev.src, n.pos, "includes() called on %s", v.Kind())
	}
}

type matchNode struct {
	pos  int
	recv node
	re   *regexp.Regexp
}

func (n *matchNode) eval(ev *evaluator) (Value, *ConditionError) {
	v, err := n.recv.eval(ev)
	if err != nil {
		return Value{}, err
	}
	s, ok := v.Str()
	if !ok {
		return Value{}, typeError(ev.src, n.pos, "match() called on %s", v.Kind())
	}
	return Bool(n.re.MatchString(s)), nil
}
