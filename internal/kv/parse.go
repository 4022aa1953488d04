package kv

import (
	"strings"
)

// Node is a key with either a scalar value or a block of children. Offsets
// point into the text passed to Parse.
type Node struct {
	Key      Token
	Value    Token // scalar nodes only
	Block    bool
	Open     Token // block nodes only
	Close    Token // block nodes only
	Cond     string
	Children []*Node
}

// Name returns the key text.
func (n *Node) Name() string { return n.Key.Text }

// Child returns the first direct child whose key matches name
// case-insensitively.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if strings.EqualFold(c.Key.Text, name) {
			return c
		}
	}
	return nil
}

// Values returns every scalar value stored under key anywhere below n, in
// document order.
func (n *Node) Values(key string) []string {
	var out []string
	var walk func(*Node)
	walk = func(cur *Node) {
		for _, c := range cur.Children {
			if c.Block {
				walk(c)
				continue
			}
			if strings.EqualFold(c.Key.Text, key) {
				out = append(out, c.Value.Text)
			}
		}
	}
	walk(n)
	return out
}

// Document is a parsed KeyValues text.
type Document struct {
	Text string
	// Root holds the top-level pairs; it has no key of its own.
	Root *Node
}

// Parse builds an offset-preserving tree from KeyValues text.
func Parse(text string) (*Document, error) {
	tokens, err := Scan(text)
	if err != nil {
		return nil, err
	}
	p := parser{tokens: tokens, text: text}
	root := &Node{Block: true}
	children, err := p.pairs(nil)
	if err != nil {
		return nil, err
	}
	root.Children = children
	return &Document{Text: text, Root: root}, nil
}

type parser struct {
	tokens []Token
	text   string
	pos    int
}

func (p *parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

// pairs reads key/value pairs until the closing brace of open, or EOF when
// open is nil.
func (p *parser) pairs(open *Token) ([]*Node, error) {
	var nodes []*Node
	for {
		tok, ok := p.peek()
		if !ok {
			if open != nil {
				return nil, &SyntaxError{Offset: open.Start, Line: open.Line, Msg: "unclosed block"}
			}
			return nodes, nil
		}
		switch tok.Kind {
		case KindClose:
			if open == nil {
				return nil, &SyntaxError{Offset: tok.Start, Line: tok.Line, Msg: "unexpected '}'"}
			}
			return nodes, nil
		case KindOpen:
			return nil, &SyntaxError{Offset: tok.Start, Line: tok.Line, Msg: "block without a key"}
		case KindCond:
			p.pos++
			continue
		}

		p.pos++
		node := &Node{Key: tok}
		p.skipCond(node)
		next, ok := p.peek()
		if !ok {
			return nil, &SyntaxError{Offset: tok.Start, Line: tok.Line, Msg: "key " + quote(tok.Text) + " has no value"}
		}
		switch next.Kind {
		case KindOpen:
			p.pos++
			node.Block = true
			node.Open = next
			children, err := p.pairs(&next)
			if err != nil {
				return nil, err
			}
			node.Children = children
			node.Close = p.tokens[p.pos]
			p.pos++
		case KindString:
			p.pos++
			node.Value = next
		default:
			return nil, &SyntaxError{Offset: next.Start, Line: next.Line, Msg: "key " + quote(tok.Text) + " has no value"}
		}
		p.skipCond(node)
		nodes = append(nodes, node)
	}
}

func (p *parser) skipCond(n *Node) {
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != KindCond {
			return
		}
		n.Cond = tok.Text
		p.pos++
	}
}

func quote(s string) string {
	return "\"" + s + "\""
}

// LineStart returns the offset of the first byte of the line containing
// offset.
func LineStart(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	return strings.LastIndexByte(text[:offset], '\n') + 1
}

// Indentation returns the whitespace preceding offset on its line and whether
// only whitespace precedes it.
func Indentation(text string, offset int) (string, bool) {
	start := LineStart(text, offset)
	prefix := text[start:offset]
	if strings.TrimLeft(prefix, " \t") != "" {
		return "", false
	}
	return prefix, true
}

// LineEnding reports the newline convention used by text.
func LineEnding(text string) string {
	if strings.Contains(text, "\r\n") {
		return "\r\n"
	}
	return "\n"
}
