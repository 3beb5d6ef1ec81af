package evql

import (
	"fmt"
)

// Parser parses EVQL filter expressions into an AST.
type Parser struct {
	lexer   *Lexer
	current Token
}

// Parse parses the input string and returns the AST root node.
func Parse(input string) (Node, error) {
	if input == "" {
		return nil, nil
	}
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, fmt.Errorf("unexpected trailing token: %q", p.current.Value)
	}
	return node, nil
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

// parseOr handles OR expressions (lowest precedence).
func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "OR", Left: left, Right: right}
	}

	return left, nil
}

// parseAnd handles AND expressions.
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "AND", Left: left, Right: right}
	}

	return left, nil
}

// parseNot handles NOT expressions.
func (p *Parser) parseNot() (Node, error) {
	if p.current.Type == TokenNot {
		p.advance()
		expr, err := p.parseNot() // NOT is right-associative
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: expr}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles primary expressions: (expr), key:value, key<op>value,
// "string".
func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, fmt.Errorf("expected ')' but got %q", p.current.Value)
		}
		p.advance()
		return expr, nil

	case TokenString:
		// Bare quoted string: substring match on the event type
		value := p.current.Value
		p.advance()
		return MatchExpr{Key: "", Value: value, Op: "CONTAINS"}, nil

	case TokenIdent:
		key := p.current.Value
		p.advance()

		var op string
		switch p.current.Type {
		case TokenColon:
			op = "="
		case TokenNeq:
			op = "!="
		case TokenLt:
			op = "<"
		case TokenLte:
			op = "<="
		case TokenGt:
			op = ">"
		case TokenGte:
			op = ">="
		default:
			// Bare identifier: substring match on the event type
			return MatchExpr{Key: "", Value: key, Op: "CONTAINS"}, nil
		}
		p.advance()
		return p.parseValue(key, op)

	case TokenEOF:
		return nil, nil

	default:
		return nil, fmt.Errorf("unexpected token: %q", p.current.Value)
	}
}

// parseValue parses the value part after an operator.
func (p *Parser) parseValue(key, op string) (Node, error) {
	var value string

	switch p.current.Type {
	case TokenString, TokenIdent, TokenNumber:
		value = p.current.Value
		p.advance()
	default:
		return nil, fmt.Errorf("expected value after '%s%s' but got %q", key, op, p.current.Value)
	}

	return MatchExpr{Key: key, Value: value, Op: op}, nil
}
