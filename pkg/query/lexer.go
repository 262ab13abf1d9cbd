package query

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenWord
	tokenString
	tokenRelation
	tokenLParen
	tokenRParen
	tokenSlash
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of query"
	case tokenWord:
		return "word"
	case tokenString:
		return "quoted string"
	case tokenRelation:
		return "relation"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	case tokenSlash:
		return "'/'"
	}
	return "token"
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits a CQL query into tokens. Quoted strings keep backslash escapes
// other than \" so wildcard masking survives into term translation.
func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case r == '/':
			tokens = append(tokens, token{kind: tokenSlash, text: "/", pos: i})
			i++
		case r == '=' || r == '<' || r == '>':
			start := i
			rel := string(r)
			if i+1 < len(runes) {
				pair := string(runes[i : i+2])
				switch pair {
				case "==", "<>", "<=", ">=":
					rel = pair
				}
			}
			i += len(rel)
			tokens = append(tokens, token{kind: tokenRelation, text: rel, pos: start})
		case r == '"':
			start := i
			i++
			var b strings.Builder
			closed := false
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) {
					if runes[i+1] == '"' {
						b.WriteRune('"')
					} else {
						b.WriteRune('\\')
						b.WriteRune(runes[i+1])
					}
					i += 2
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				b.WriteRune(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted string at position %d", start)
			}
			tokens = append(tokens, token{kind: tokenString, text: b.String(), pos: start})
		default:
			start := i
			for i < len(runes) && !isDelimiter(runes[i]) {
				if runes[i] == '\\' && i+1 < len(runes) {
					i += 2
					continue
				}
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: string(runes[start:i]), pos: start})
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes)})
	return tokens, nil
}

func isDelimiter(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '(', ')', '=', '<', '>', '"', '/':
		return true
	}
	return false
}
