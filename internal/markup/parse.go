package markup

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is matched by every error Parse returns.
var ErrMalformed = errors.New("malformed markup")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SyntaxError locates a parse failure in the source buffer.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("markup: %s at offset %d", e.Msg, e.Offset)
}

func (e *SyntaxError) Unwrap() error { return ErrMalformed }

// Parse builds a Document from src. The buffer is copied, so the caller
// may reuse it. On error no tree is returned.
func Parse(src []byte) (*Document, error) {
	p := &parser{src: bytes.Clone(src)}
	p.doc = &Document{src: p.src}
	if bytes.HasPrefix(p.src, utf8BOM) {
		p.pos = len(utf8BOM)
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.doc, nil
}

type parser struct {
	src   []byte
	pos   int
	doc   *Document
	stack []Handle
}

func (p *parser) errorf(offset int, format string, args ...any) error {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) run() error {
	for p.pos < len(p.src) {
		lt := bytes.IndexByte(p.src[p.pos:], '<')
		if lt < 0 {
			if err := p.text(p.src[p.pos:], p.pos); err != nil {
				return err
			}
			p.pos = len(p.src)
			break
		}
		if lt > 0 {
			if err := p.text(p.src[p.pos:p.pos+lt], p.pos); err != nil {
				return err
			}
			p.pos += lt
		}
		if err := p.markup(); err != nil {
			return err
		}
	}
	if n := len(p.stack); n > 0 {
		open := p.doc.nodes[p.stack[n-1]]
		return p.errorf(open.start, "unterminated element <%s>", open.name)
	}
	if len(p.doc.nodes) == 0 {
		return p.errorf(0, "no root element")
	}
	return nil
}

// text records character data. Whitespace between tags is dropped, but
// it is kept as the whole content of a leaf element.
func (p *parser) text(raw []byte, offset int) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		if p.closesLeaf(offset + len(raw)) {
			p.appendText(string(raw))
		}
		return nil
	}
	if len(p.stack) == 0 {
		return p.errorf(offset, "character data outside root element")
	}
	s, err := p.unescape(raw, offset)
	if err != nil {
		return err
	}
	p.appendText(s)
	return nil
}

// closesLeaf reports whether the open element has neither children nor
// text yet and its closing tag starts at next.
func (p *parser) closesLeaf(next int) bool {
	if len(p.stack) == 0 || !bytes.HasPrefix(p.src[next:], []byte("</")) {
		return false
	}
	n := p.doc.nodes[p.stack[len(p.stack)-1]]
	return n.firstChild == NoHandle && !n.hasText
}

func (p *parser) appendText(s string) {
	n := &p.doc.nodes[p.stack[len(p.stack)-1]]
	n.text += s
	n.hasText = true
}

func (p *parser) markup() error {
	rest := p.src[p.pos:]
	switch {
	case bytes.HasPrefix(rest, []byte("<?")):
		return p.skipPast("?>", "processing instruction")
	case bytes.HasPrefix(rest, []byte("<!--")):
		return p.skipPast("-->", "comment")
	case bytes.HasPrefix(rest, []byte("<![CDATA[")):
		start := p.pos
		end := bytes.Index(rest, []byte("]]>"))
		if end < 0 {
			return p.errorf(start, "unterminated CDATA section")
		}
		if len(p.stack) == 0 {
			return p.errorf(start, "CDATA outside root element")
		}
		p.appendText(string(rest[len("<![CDATA["):end]))
		p.pos += end + len("]]>")
		return nil
	case bytes.HasPrefix(rest, []byte("<!")):
		return p.skipDeclaration()
	case bytes.HasPrefix(rest, []byte("</")):
		return p.closeTag()
	default:
		return p.openTag()
	}
}

func (p *parser) skipPast(terminator, what string) error {
	end := bytes.Index(p.src[p.pos:], []byte(terminator))
	if end < 0 {
		return p.errorf(p.pos, "unterminated %s", what)
	}
	p.pos += end + len(terminator)
	return nil
}

// skipDeclaration skips <!DOCTYPE ...> including an internal subset.
func (p *parser) skipDeclaration() error {
	start := p.pos
	depth := 0
	for i := p.pos + 2; i < len(p.src); i++ {
		switch p.src[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '>':
			if depth <= 0 {
				p.pos = i + 1
				return nil
			}
		}
	}
	return p.errorf(start, "unterminated declaration")
}

func (p *parser) closeTag() error {
	start := p.pos
	end := bytes.IndexByte(p.src[p.pos:], '>')
	if end < 0 {
		return p.errorf(start, "unterminated closing tag")
	}
	name := string(bytes.TrimSpace(p.src[p.pos+2 : p.pos+end]))
	if len(p.stack) == 0 {
		return p.errorf(start, "closing tag </%s> without open element", name)
	}
	top := p.stack[len(p.stack)-1]
	if open := p.doc.nodes[top].name; open != name {
		return p.errorf(start, "closing tag </%s> does not match <%s>", name, open)
	}
	p.pos += end + 1
	p.doc.nodes[top].end = p.pos
	p.stack = p.stack[:len(p.stack)-1]
	return nil
}

func (p *parser) openTag() error {
	start := p.pos
	p.pos++
	name := p.readName()
	if name == "" {
		return p.errorf(start, "expected element name")
	}
	if len(p.stack) == 0 && len(p.doc.nodes) > 0 {
		return p.errorf(start, "multiple root elements")
	}
	h := p.newNode(name, start)
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return p.errorf(start, "unterminated tag <%s>", name)
		}
		switch c := p.src[p.pos]; c {
		case '>':
			p.pos++
			p.stack = append(p.stack, h)
			return nil
		case '/':
			if p.pos+1 >= len(p.src) || p.src[p.pos+1] != '>' {
				return p.errorf(p.pos, "unexpected '/' in tag <%s>", name)
			}
			p.pos += 2
			p.doc.nodes[h].end = p.pos
			return nil
		default:
			if err := p.attr(h); err != nil {
				return err
			}
		}
	}
}

func (p *parser) attr(h Handle) error {
	start := p.pos
	name := p.readName()
	if name == "" {
		return p.errorf(start, "invalid character %q in tag", p.src[p.pos])
	}
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '=' {
		return p.errorf(start, "attribute %s has no value", name)
	}
	p.pos++
	p.skipSpace()
	if p.pos >= len(p.src) {
		return p.errorf(start, "unterminated attribute %s", name)
	}
	quote := p.src[p.pos]
	if quote != '"' && quote != '\'' {
		return p.errorf(p.pos, "attribute %s value is not quoted", name)
	}
	valueStart := p.pos + 1
	end := bytes.IndexByte(p.src[valueStart:], quote)
	if end < 0 {
		return p.errorf(start, "unterminated attribute %s", name)
	}
	raw := p.src[valueStart : valueStart+end]
	if i := bytes.IndexByte(raw, '<'); i >= 0 {
		return p.errorf(valueStart+i, "'<' in attribute %s", name)
	}
	value, err := p.unescape(raw, valueStart)
	if err != nil {
		return err
	}
	p.doc.attrs = append(p.doc.attrs, Attr{Name: name, Value: value})
	p.doc.nodes[h].attrEnd = len(p.doc.attrs)
	p.pos = valueStart + end + 1
	return nil
}

func (p *parser) newNode(name string, start int) Handle {
	h := Handle(len(p.doc.nodes))
	parent := NoHandle
	if len(p.stack) > 0 {
		parent = p.stack[len(p.stack)-1]
	}
	p.doc.nodes = append(p.doc.nodes, node{
		name:       name,
		attrStart:  len(p.doc.attrs),
		attrEnd:    len(p.doc.attrs),
		parent:     parent,
		firstChild: NoHandle,
		lastChild:  NoHandle,
		next:       NoHandle,
		prev:       NoHandle,
		start:      start,
	})
	if parent != NoHandle {
		pn := &p.doc.nodes[parent]
		if pn.lastChild != NoHandle {
			p.doc.nodes[pn.lastChild].next = h
			p.doc.nodes[h].prev = pn.lastChild
		} else {
			pn.firstChild = h
		}
		pn.lastChild = h
	}
	return h
}

func (p *parser) readName() string {
	start := p.pos
	for p.pos < len(p.src) && isNameByte(p.src[p.pos]) {
		p.pos++
	}
	return string(p.src[start:p.pos])
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameByte(c byte) bool {
	if c <= ' ' {
		return false
	}
	switch c {
	case '/', '>', '<', '=', '"', '\'', '!', '?', '&':
		return false
	}
	return true
}

func (p *parser) unescape(raw []byte, offset int) (string, error) {
	if bytes.IndexByte(raw, '&') < 0 {
		return string(raw), nil
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); {
		if raw[i] != '&' {
			b.WriteByte(raw[i])
			i++
			continue
		}
		semi := bytes.IndexByte(raw[i:], ';')
		if semi < 0 {
			return "", p.errorf(offset+i, "unterminated entity reference")
		}
		ref := string(raw[i+1 : i+semi])
		s, ok := entity(ref)
		if !ok {
			return "", p.errorf(offset+i, "unknown entity &%s;", ref)
		}
		b.WriteString(s)
		i += semi + 1
	}
	return b.String(), nil
}

func entity(ref string) (string, bool) {
	switch ref {
	case "amp":
		return "&", true
	case "lt":
		return "<", true
	case "gt":
		return ">", true
	case "quot":
		return `"`, true
	case "apos":
		return "'", true
	}
	if !strings.HasPrefix(ref, "#") || len(ref) < 2 {
		return "", false
	}
	digits, base := ref[1:], 10
	if digits[0] == 'x' || digits[0] == 'X' {
		digits, base = digits[1:], 16
	}
	n, err := strconv.ParseUint(digits, base, 32)
	if err != nil || !utf8.ValidRune(rune(n)) {
		return "", false
	}
	return string(rune(n)), true
}
