package kv

import (
	"fmt"
	"strings"
)

// Kind classifies a token.
type Kind int

const (
	KindString Kind = iota // quoted or bare word
	KindOpen
	KindClose
	KindCond // [$WIN32] style conditional
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindOpen:
		return "{"
	case KindClose:
		return "}"
	case KindCond:
		return "conditional"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Token is one lexical element with its byte range in the source. For quoted
// strings Start and End include the quotes.
type Token struct {
	Kind   Kind
	Text   string
	Start  int
	End    int
	Line   int
	Quoted bool
}

// ContentRange returns the byte range of the token's text without quotes.
func (t Token) ContentRange() (int, int) {
	if t.Quoted {
		return t.Start + 1, t.End - 1
	}
	return t.Start, t.End
}

// SyntaxError reports malformed KeyValues text.
type SyntaxError struct {
	Offset int
	Line   int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("keyvalues: line %d (offset %d): %s", e.Line, e.Offset, e.Msg)
}

const bom = "\xef\xbb\xbf"

// Scan splits text into tokens, skipping whitespace and // comments.
func Scan(text string) ([]Token, error) {
	s := scanner{text: text, line: 1}
	if strings.HasPrefix(text, bom) {
		s.pos = len(bom)
	}
	var tokens []Token
	for {
		tok, ok, err := s.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}

type scanner struct {
	text string
	pos  int
	line int
}

func (s *scanner) next() (Token, bool, error) {
	s.skipSpaceAndComments()
	if s.pos >= len(s.text) {
		return Token{}, false, nil
	}
	start := s.pos
	switch c := s.text[s.pos]; c {
	case '{':
		s.pos++
		return Token{Kind: KindOpen, Text: "{", Start: start, End: s.pos, Line: s.line}, true, nil
	case '}':
		s.pos++
		return Token{Kind: KindClose, Text: "}", Start: start, End: s.pos, Line: s.line}, true, nil
	case '"':
		return s.quoted()
	case '[':
		end := strings.IndexByte(s.text[s.pos:], ']')
		if end < 0 || strings.ContainsAny(s.text[s.pos:s.pos+end], "\r\n") {
			return Token{}, false, &SyntaxError{Offset: start, Line: s.line, Msg: "unterminated conditional"}
		}
		s.pos += end + 1
		return Token{Kind: KindCond, Text: s.text[start:s.pos], Start: start, End: s.pos, Line: s.line}, true, nil
	default:
		for s.pos < len(s.text) && !isDelimiter(s.text[s.pos]) {
			s.pos++
		}
		return Token{Kind: KindString, Text: s.text[start:s.pos], Start: start, End: s.pos, Line: s.line}, true, nil
	}
}

func (s *scanner) quoted() (Token, bool, error) {
	start, line := s.pos, s.line
	s.pos++
	for s.pos < len(s.text) {
		switch s.text[s.pos] {
		case '\\':
			s.pos += 2
			continue
		case '\n':
			s.line++
		case '"':
			s.pos++
			return Token{
				Kind:   KindString,
				Text:   s.text[start+1 : s.pos-1],
				Start:  start,
				End:    s.pos,
				Line:   line,
				Quoted: true,
			}, true, nil
		}
		s.pos++
	}
	return Token{}, false, &SyntaxError{Offset: start, Line: line, Msg: "unterminated string"}
}

func (s *scanner) skipSpaceAndComments() {
	for s.pos < len(s.text) {
		c := s.text[s.pos]
		switch {
		case c == '\n':
			s.line++
			s.pos++
		case c == ' ' || c == '\t' || c == '\r':
			s.pos++
		case c == '/' && s.pos+1 < len(s.text) && s.text[s.pos+1] == '/':
			for s.pos < len(s.text) && s.text[s.pos] != '\n' {
				s.pos++
			}
		default:
			return
		}
	}
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '{', '}', '"':
		return true
	}
	return false
}
