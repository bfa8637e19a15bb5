package passport

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Guard conditions on status transitions are free text. Diagnostics try to
// parse them as boolean expressions such as
//
//	income < 2 * subsistence_minimum AND NOT applicant.employed
//
// and report the ones that are prose instead.

var conditionLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `\d+(\.\d+)?`},
	{Name: "Keyword", Pattern: `(?i)\b(AND|OR|NOT|TRUE|FALSE)\b`},
	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_.]*`},
	{Name: "Operator", Pattern: `==|!=|<=|>=|[-+*/()<>=]`},
	{Name: "whitespace", Pattern: `\s+`},
})

type conditionOr struct {
	And []*conditionAnd `parser:"@@ ( 'OR' @@ )*"`
}

type conditionAnd struct {
	Terms []*conditionTerm `parser:"@@ ( 'AND' @@ )*"`
}

type conditionTerm struct {
	Not     *conditionTerm       `parser:"  'NOT' @@"`
	Compare *conditionComparison `parser:"| @@"`
}

type conditionComparison struct {
	Left  *conditionArith   `parser:"@@"`
	Right *conditionCompRHS `parser:"@@?"`
}

type conditionCompRHS struct {
	Op    string          `parser:"@( '==' | '!=' | '<=' | '>=' | '<' | '>' | '=' )"`
	Value *conditionArith `parser:"@@"`
}

type conditionArith struct {
	Head *conditionOperand   `parser:"@@"`
	Tail []*conditionArithOp `parser:"@@*"`
}

type conditionArithOp struct {
	Op      string            `parser:"@( '+' | '-' | '*' | '/' )"`
	Operand *conditionOperand `parser:"@@"`
}

type conditionOperand struct {
	Number *string      `parser:"  @Number"`
	String *string      `parser:"| @String"`
	Bool   *string      `parser:"| @( 'TRUE' | 'FALSE' )"`
	Ident  *string      `parser:"| @Ident"`
	Group  *conditionOr `parser:"| '(' @@ ')'"`
}

var conditionParser = participle.MustBuild[conditionOr](
	participle.Lexer(conditionLexer),
	participle.CaseInsensitive("Keyword"),
	participle.Unquote("String"),
	participle.Elide("whitespace"),
	participle.UseLookahead(2),
)

// Condition is a parsed guard expression.
type Condition struct {
	ast *conditionOr
}

// ParseCondition parses a guard condition. An error means the text is not a
// machine-readable expression.
func ParseCondition(text string) (*Condition, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty condition", ErrInvalidInput)
	}
	ast, err := conditionParser.ParseString("", text)
	if err != nil {
		return nil, fmt.Errorf("%w: condition %q: %v", ErrInvalidInput, text, err)
	}
	return &Condition{ast: ast}, nil
}

// Identifiers returns the variable names referenced by the condition in
// order of first appearance.
func (c *Condition) Identifiers() []string {
	seen := map[string]bool{}
	var out []string
	var walkOr func(*conditionOr)
	walkOperand := func(o *conditionOperand) {
		switch {
		case o == nil:
		case o.Ident != nil:
			if !seen[*o.Ident] {
				seen[*o.Ident] = true
				out = append(out, *o.Ident)
			}
		case o.Group != nil:
			walkOr(o.Group)
		}
	}
	walkArith := func(a *conditionArith) {
		if a == nil {
			return
		}
		walkOperand(a.Head)
		for _, t := range a.Tail {
			walkOperand(t.Operand)
		}
	}
	var walkTerm func(*conditionTerm)
	walkTerm = func(t *conditionTerm) {
		for t != nil && t.Not != nil {
			t = t.Not
		}
		if t == nil || t.Compare == nil {
			return
		}
		walkArith(t.Compare.Left)
		if t.Compare.Right != nil {
			walkArith(t.Compare.Right.Value)
		}
	}
	walkOr = func(o *conditionOr) {
		for _, a := range o.And {
			for _, t := range a.Terms {
				walkTerm(t)
			}
		}
	}
	walkOr(c.ast)
	return out
}
