package formats

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// KeyValues format errors.
var (
	ErrKeyValuesSyntax = errors.New("keyvalues syntax error")
)

// KVEntry is one entry of a KeyValues object: either a key/value pair or a nested object.
type KVEntry struct {
	Key       string
	Value     string
	Object    *KVObject // non-nil for nested blocks
	Condition string    // optional [condition] suffix, without brackets
	Line      int
}

// IsObject reports whether the entry is a nested block.
func (e *KVEntry) IsObject() bool {
	return e.Object != nil
}

// KVObject is a named block of entries.
type KVObject struct {
	Name    string
	Entries []KVEntry
}

// Find returns the first key/value entry matching key case-insensitively.
func (o *KVObject) Find(key string) (string, bool) {
	for _, e := range o.Entries {
		if !e.IsObject() && strings.EqualFold(e.Key, key) {
			return e.Value, true
		}
	}
	return "", false
}

type kvTokenKind int

const (
	kvEOF kvTokenKind = iota
	kvString
	kvOpen
	kvClose
	kvCondition
)

type kvToken struct {
	kind kvTokenKind
	text string
	line int
}

type kvLexer struct {
	src  string
	pos  int
	line int
	peek *kvToken
}

func (l *kvLexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			l.pos++
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *kvLexer) next() (kvToken, error) {
	if l.peek != nil {
		t := *l.peek
		l.peek = nil
		return t, nil
	}

	l.skipSpace()
	if l.pos >= len(l.src) {
		return kvToken{kind: kvEOF, line: l.line}, nil
	}

	line := l.line
	switch c := l.src[l.pos]; c {
	case '{':
		l.pos++
		return kvToken{kind: kvOpen, text: "{", line: line}, nil
	case '}':
		l.pos++
		return kvToken{kind: kvClose, text: "}", line: line}, nil
	case '"':
		end := strings.IndexByte(l.src[l.pos+1:], '"')
		if end < 0 {
			return kvToken{}, fmt.Errorf("%w: line %d: unterminated string", ErrKeyValuesSyntax, line)
		}
		text := l.src[l.pos+1 : l.pos+1+end]
		l.line += strings.Count(text, "\n")
		l.pos += end + 2
		return kvToken{kind: kvString, text: text, line: line}, nil
	case '[':
		end := strings.IndexByte(l.src[l.pos:], ']')
		if end < 0 {
			return kvToken{}, fmt.Errorf("%w: line %d: unterminated condition", ErrKeyValuesSyntax, line)
		}
		text := l.src[l.pos+1 : l.pos+end]
		l.pos += end + 1
		return kvToken{kind: kvCondition, text: text, line: line}, nil
	}

	start := l.pos
	for l.pos < len(l.src) {
		c := rune(l.src[l.pos])
		if unicode.IsSpace(c) || c == '"' || c == '{' || c == '}' {
			break
		}
		l.pos++
	}
	return kvToken{kind: kvString, text: l.src[start:l.pos], line: line}, nil
}

func (l *kvLexer) peekToken() (kvToken, error) {
	if l.peek == nil {
		t, err := l.next()
		if err != nil {
			return kvToken{}, err
		}
		l.peek = &t
	}
	return *l.peek, nil
}

// optionalCondition consumes a trailing [condition] token if one follows.
func (l *kvLexer) optionalCondition() (string, error) {
	t, err := l.peekToken()
	if err != nil {
		return "", err
	}
	if t.kind != kvCondition {
		return "", nil
	}
	l.peek = nil
	return t.text, nil
}

func (l *kvLexer) parseBody() ([]KVEntry, error) {
	var entries []KVEntry
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		switch t.kind {
		case kvClose:
			return entries, nil
		case kvEOF:
			return nil, fmt.Errorf("%w: line %d: missing '}'", ErrKeyValuesSyntax, t.line)
		case kvString:
		default:
			return nil, fmt.Errorf("%w: line %d: unexpected %q", ErrKeyValuesSyntax, t.line, t.text)
		}

		entry := KVEntry{Key: t.text, Line: t.line}
		v, err := l.next()
		if err != nil {
			return nil, err
		}
		switch v.kind {
		case kvOpen:
			children, err := l.parseBody()
			if err != nil {
				return nil, err
			}
			entry.Object = &KVObject{Name: t.text, Entries: children}
		case kvString, kvCondition:
			entry.Value = v.text
			if v.kind == kvCondition {
				// An unquoted bracketed vector such as [1 1 1].
				entry.Value = "[" + v.text + "]"
			}
			cond, err := l.optionalCondition()
			if err != nil {
				return nil, err
			}
			if cond != "" {
				entry.Condition = cond
			}
		default:
			return nil, fmt.Errorf("%w: line %d: key %q has no value", ErrKeyValuesSyntax, v.line, t.text)
		}
		entries = append(entries, entry)
	}
}

// ParseKeyValues parses a document holding a single root object, as used by material files.
func ParseKeyValues(text string) (*KVObject, error) {
	l := &kvLexer{src: text, line: 1}

	name, err := l.next()
	if err != nil {
		return nil, err
	}
	if name.kind != kvString {
		return nil, fmt.Errorf("%w: line %d: expected root name", ErrKeyValuesSyntax, name.line)
	}
	if _, err := l.optionalCondition(); err != nil {
		return nil, err
	}
	open, err := l.next()
	if err != nil {
		return nil, err
	}
	if open.kind != kvOpen {
		return nil, fmt.Errorf("%w: line %d: expected '{' after %q", ErrKeyValuesSyntax, open.line, name.text)
	}
	entries, err := l.parseBody()
	if err != nil {
		return nil, err
	}
	if rest, err := l.next(); err != nil {
		return nil, err
	} else if rest.kind != kvEOF {
		return nil, fmt.Errorf("%w: line %d: trailing data after root object", ErrKeyValuesSyntax, rest.line)
	}
	return &KVObject{Name: name.text, Entries: entries}, nil
}

// ParseEntities parses the entity lump: a sequence of unnamed flat blocks. Keys are
// lowercased; a repeated key keeps its last value.
func ParseEntities(text string) ([]map[string]string, error) {
	l := &kvLexer{src: strings.TrimRight(text, "\x00"), line: 1}

	var out []map[string]string
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		if t.kind == kvEOF {
			return out, nil
		}
		if t.kind != kvOpen {
			return nil, fmt.Errorf("%w: line %d: expected '{'", ErrKeyValuesSyntax, t.line)
		}
		entries, err := l.parseBody()
		if err != nil {
			return nil, err
		}
		ent := make(map[string]string, len(entries))
		for _, e := range entries {
			if e.IsObject() {
				return nil, fmt.Errorf("%w: line %d: nested block in entity", ErrKeyValuesSyntax, e.Line)
			}
			ent[strings.ToLower(e.Key)] = e.Value
		}
		out = append(out, ent)
	}
}
