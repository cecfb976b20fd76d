package spec

import (
	"fmt"
	"strconv"
	"strings"
)

// value is an %if operand: an integer or a quoted string.
type value struct {
	isStr bool
	s     string
	n     int64
}

func (v value) truth() bool {
	if v.isStr {
		return v.s != ""
	}
	return v.n != 0
}

// exprParser evaluates the condition of an %if line after macro expansion.
// Grammar, loosest first:
//
//	or    := and { "||" and }
//	and   := cmp { "&&" cmp }
//	cmp   := add [ ("==" | "!=" | "<" | "<=" | ">" | ">=") add ]
//	add   := mul { ("+" | "-") mul }
//	mul   := unary { ("*" | "/") unary }
//	unary := ("!" | "-") unary | "(" or ")" | number | "string"
type exprParser struct {
	text string
	pos  int
}

func evalCondition(text string) (bool, error) {
	p := &exprParser{text: text}
	v, err := p.or()
	if err != nil {
		return false, err
	}
	p.skipSpace()
	if p.pos < len(p.text) {
		return false, fmt.Errorf("syntax error in expression %q near %q", text, p.text[p.pos:])
	}
	return v.truth(), nil
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.text) && (p.text[p.pos] == ' ' || p.text[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.text[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *exprParser) or() (value, error) {
	v, err := p.and()
	for err == nil && p.accept("||") {
		var r value
		if r, err = p.and(); err == nil {
			v = boolValue(v.truth() || r.truth())
		}
	}
	return v, err
}

func (p *exprParser) and() (value, error) {
	v, err := p.cmp()
	for err == nil && p.accept("&&") {
		var r value
		if r, err = p.cmp(); err == nil {
			v = boolValue(v.truth() && r.truth())
		}
	}
	return v, err
}

func boolValue(b bool) value {
	if b {
		return value{n: 1}
	}
	return value{}
}

var cmpOps = []string{"==", "!=", "<=", ">=", "<", ">"}

func (p *exprParser) cmp() (value, error) {
	l, err := p.add()
	if err != nil {
		return l, err
	}
	for _, op := range cmpOps {
		if !p.accept(op) {
			continue
		}
		r, err := p.add()
		if err != nil {
			return r, err
		}
		if l.isStr != r.isStr {
			return l, fmt.Errorf("types must match in %q", p.text)
		}
		var c int
		if l.isStr {
			c = strings.Compare(l.s, r.s)
		} else {
			switch {
			case l.n < r.n:
				c = -1
			case l.n > r.n:
				c = 1
			}
		}
		switch op {
		case "==":
			return boolValue(c == 0), nil
		case "!=":
			return boolValue(c != 0), nil
		case "<=":
			return boolValue(c <= 0), nil
		case ">=":
			return boolValue(c >= 0), nil
		case "<":
			return boolValue(c < 0), nil
		default:
			return boolValue(c > 0), nil
		}
	}
	return l, nil
}

func (p *exprParser) add() (value, error) {
	v, err := p.mul()
	for err == nil {
		var op byte
		switch {
		case p.accept("+"):
			op = '+'
		case p.peekMinus():
			op = '-'
		default:
			return v, nil
		}
		var r value
		if r, err = p.mul(); err != nil {
			break
		}
		switch {
		case op == '+' && v.isStr && r.isStr:
			v.s += r.s
		case v.isStr || r.isStr:
			return v, fmt.Errorf("- and + need numbers in %q", p.text)
		case op == '+':
			v.n += r.n
		default:
			v.n -= r.n
		}
	}
	return v, err
}

func (p *exprParser) peekMinus() bool {
	p.skipSpace()
	if p.pos < len(p.text) && p.text[p.pos] == '-' {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) mul() (value, error) {
	v, err := p.unary()
	for err == nil {
		var op byte
		switch {
		case p.accept("*"):
			op = '*'
		case p.accept("/"):
			op = '/'
		default:
			return v, nil
		}
		var r value
		if r, err = p.unary(); err != nil {
			break
		}
		if v.isStr || r.isStr {
			return v, fmt.Errorf("* and / need numbers in %q", p.text)
		}
		if op == '*' {
			v.n *= r.n
		} else {
			if r.n == 0 {
				return v, fmt.Errorf("division by zero in %q", p.text)
			}
			v.n /= r.n
		}
	}
	return v, err
}

func (p *exprParser) unary() (value, error) {
	p.skipSpace()
	if p.pos >= len(p.text) {
		return value{}, fmt.Errorf("unexpected end of expression %q", p.text)
	}
	switch c := p.text[p.pos]; {
	case c == '!' && !strings.HasPrefix(p.text[p.pos:], "!="):
		p.pos++
		v, err := p.unary()
		if err != nil {
			return v, err
		}
		if v.isStr {
			return v, fmt.Errorf("! needs a number in %q", p.text)
		}
		return boolValue(v.n == 0), nil
	case c == '-':
		p.pos++
		v, err := p.unary()
		if err != nil {
			return v, err
		}
		if v.isStr {
			return v, fmt.Errorf("- needs a number in %q", p.text)
		}
		v.n = -v.n
		return v, nil
	case c == '(':
		p.pos++
		v, err := p.or()
		if err != nil {
			return v, err
		}
		if !p.accept(")") {
			return v, fmt.Errorf("unmatched ( in %q", p.text)
		}
		return v, nil
	case c == '"':
		end := strings.IndexByte(p.text[p.pos+1:], '"')
		if end < 0 {
			return value{}, fmt.Errorf("unterminated string in %q", p.text)
		}
		s := p.text[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return value{isStr: true, s: s}, nil
	case c >= '0' && c <= '9':
		start := p.pos
		for p.pos < len(p.text) && p.text[p.pos] >= '0' && p.text[p.pos] <= '9' {
			p.pos++
		}
		n, err := strconv.ParseInt(p.text[start:p.pos], 10, 64)
		if err != nil {
			return value{}, err
		}
		return value{n: n}, nil
	}
	return value{}, fmt.Errorf("bad token in expression %q near %q", p.text, p.text[p.pos:])
}
