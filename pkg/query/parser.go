package query

import (
	"fmt"
	"strings"

	"github.com/nimburion/transfers/pkg/failure"
)

const maxDepth = 64

const allRecordsIndex = "cql.allrecords"

// Parse parses a CQL filter query. The empty string parses to a query matching
// all records. Syntax errors are reported as failure.KindMalformedQuery.
func Parse(input string) (*Query, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, failure.Malformed("%v", err)
	}
	p := &parser{tokens: tokens}
	q, err := p.parseQuery()
	if err != nil {
		return nil, failure.Malformed("%v", err)
	}
	return q, nil
}

type parser struct {
	tokens []token
	pos    int
	depth  int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(t token, words ...string) bool {
	if t.kind != tokenWord {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

func (p *parser) parseQuery() (*Query, error) {
	q := &Query{}
	if p.peek().kind == tokenEOF {
		return q, nil
	}
	if !p.keyword(p.peek(), "sortBy") {
		root, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		q.Root = root
	}
	if p.keyword(p.peek(), "sortBy") {
		p.next()
		keys, err := p.parseSortKeys()
		if err != nil {
			return nil, err
		}
		q.Sort = keys
	}
	if t := p.peek(); t.kind != tokenEOF {
		return nil, fmt.Errorf("unexpected %s %q at position %d", t.kind, t.text, t.pos)
	}
	return q, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BooleanNode{Op: BoolOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword(p.peek(), "and", "not") {
		op := BooleanOp(strings.ToLower(p.next().text))
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BooleanNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	switch {
	case t.kind == tokenLParen:
		p.depth++
		if p.depth > maxDepth {
			return nil, fmt.Errorf("query nesting deeper than %d", maxDepth)
		}
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, fmt.Errorf("expected ')' at position %d, got %s", closing.pos, closing.kind)
		}
		p.depth--
		return inner, nil
	case t.kind == tokenEOF:
		return nil, fmt.Errorf("expected search clause at position %d, got end of query", t.pos)
	case p.keyword(t, "and", "or", "not", "prox", "sortBy"):
		return nil, fmt.Errorf("unexpected boolean operator %q at position %d", t.text, t.pos)
	case t.kind == tokenWord || t.kind == tokenString:
		return p.parseClause()
	default:
		return nil, fmt.Errorf("unexpected %s %q at position %d", t.kind, t.text, t.pos)
	}
}

func (p *parser) parseClause() (Node, error) {
	index := p.next()

	var relation Relation
	rel := p.peek()
	switch {
	case rel.kind == tokenRelation:
		relation = Relation(rel.text)
	case p.keyword(rel, "adj", "all", "any"):
		relation = Relation(strings.ToLower(rel.text))
	default:
		return nil, fmt.Errorf("search term %q without index and relation at position %d", index.text, index.pos)
	}
	if index.kind != tokenWord {
		return nil, fmt.Errorf("index must be a field name, got quoted string at position %d", index.pos)
	}
	p.next()

	if mod := p.peek(); mod.kind == tokenSlash {
		return nil, fmt.Errorf("relation modifiers are not supported (position %d)", mod.pos)
	}

	term := p.next()
	switch {
	case term.kind == tokenString:
	case term.kind == tokenWord && !p.keyword(term, "and", "or", "not", "prox", "sortBy"):
	default:
		if term.kind == tokenEOF {
			return nil, fmt.Errorf("missing search term after %q at position %d", relation, term.pos)
		}
		return nil, fmt.Errorf("invalid search term %s %q at position %d", term.kind, term.text, term.pos)
	}

	if strings.EqualFold(index.text, allRecordsIndex) {
		if relation != RelEq || term.text != "1" {
			return nil, fmt.Errorf("cql.allRecords only supports =1")
		}
		return &AllRecordsNode{}, nil
	}

	return &ClauseNode{Index: index.text, Relation: relation, Term: term.text}, nil
}

func (p *parser) parseSortKeys() ([]SortKey, error) {
	var keys []SortKey
	for p.peek().kind == tokenWord {
		t := p.next()
		key := SortKey{Index: t.text}
		for p.peek().kind == tokenSlash {
			p.next()
			mod := p.next()
			switch {
			case p.keyword(mod, "sort.ascending"):
				key.Descending = false
			case p.keyword(mod, "sort.descending"):
				key.Descending = true
			default:
				return nil, fmt.Errorf("unsupported sort modifier %q at position %d", mod.text, mod.pos)
			}
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("sortBy requires at least one index")
	}
	return keys, nil
}
