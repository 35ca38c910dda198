// Package markup is a small non-validating XML parser that builds an
// element tree inside a per-document arena. Nodes refer to each other by
// Handle, never by pointer, so the whole tree goes away with its Document.
package markup

import "strings"

// Handle indexes a node in its Document arena.
type Handle int32

// NoHandle marks a missing parent, child or sibling.
const NoHandle Handle = -1

// Attr is one name/value pair in document order.
type Attr struct {
	Name  string
	Value string
}

type node struct {
	name    string
	text    string
	hasText bool

	attrStart, attrEnd int

	parent     Handle
	firstChild Handle
	lastChild  Handle
	next       Handle
	prev       Handle

	// byte span of the element in the source, end exclusive
	start, end int
}

// Document owns every node produced by one Parse call.
type Document struct {
	src   []byte
	nodes []node
	attrs []Attr
}

// Root returns the document element, or an invalid Element once the
// document has been released.
func (d *Document) Root() Element {
	if d == nil || len(d.nodes) == 0 {
		return Element{h: NoHandle}
	}
	return Element{doc: d, h: 0}
}

// Len is the number of elements in the tree.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.nodes)
}

// Release drops the arena. Every Element obtained from the document
// reports Valid() == false afterwards.
func (d *Document) Release() {
	if d == nil {
		return
	}
	d.src = nil
	d.nodes = nil
	d.attrs = nil
}

// Element is a read-only view of one node. The zero value is invalid and
// all accessors on an invalid element return zero values.
type Element struct {
	doc *Document
	h   Handle
}

func (e Element) node() *node {
	if !e.Valid() {
		return nil
	}
	return &e.doc.nodes[e.h]
}

func (e Element) at(h Handle) Element {
	if h == NoHandle {
		return Element{h: NoHandle}
	}
	return Element{doc: e.doc, h: h}
}

// Valid reports whether e still points into a live document.
func (e Element) Valid() bool {
	return e.doc != nil && e.h >= 0 && int(e.h) < len(e.doc.nodes)
}

// Handle returns the arena index of e.
func (e Element) Handle() Handle {
	if !e.Valid() {
		return NoHandle
	}
	return e.h
}

// Name is the tag name, prefix included.
func (e Element) Name() string {
	if n := e.node(); n != nil {
		return n.name
	}
	return ""
}

// LocalName is the tag name without its namespace prefix.
func (e Element) LocalName() string { return LocalName(e.Name()) }

// Text returns the concatenated character data of e. Whitespace-only runs
// between child tags are not part of it.
func (e Element) Text() string {
	if n := e.node(); n != nil {
		return n.text
	}
	return ""
}

// HasText reports whether any character data was captured for e.
func (e Element) HasText() bool {
	if n := e.node(); n != nil {
		return n.hasText
	}
	return false
}

// Attr returns the first attribute called name.
func (e Element) Attr(name string) (string, bool) {
	n := e.node()
	if n == nil {
		return "", false
	}
	for _, a := range e.doc.attrs[n.attrStart:n.attrEnd] {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the first attribute called name, or def when absent.
func (e Element) AttrOr(name, def string) string {
	if v, ok := e.Attr(name); ok {
		return v
	}
	return def
}

// Attrs returns a copy of all attributes in document order.
func (e Element) Attrs() []Attr {
	n := e.node()
	if n == nil || n.attrEnd == n.attrStart {
		return nil
	}
	return append([]Attr(nil), e.doc.attrs[n.attrStart:n.attrEnd]...)
}

func (e Element) Parent() Element {
	if n := e.node(); n != nil {
		return e.at(n.parent)
	}
	return Element{h: NoHandle}
}

func (e Element) FirstChild() Element {
	if n := e.node(); n != nil {
		return e.at(n.firstChild)
	}
	return Element{h: NoHandle}
}

func (e Element) Next() Element {
	if n := e.node(); n != nil {
		return e.at(n.next)
	}
	return Element{h: NoHandle}
}

func (e Element) Prev() Element {
	if n := e.node(); n != nil {
		return e.at(n.prev)
	}
	return Element{h: NoHandle}
}

// Children returns the direct children of e in document order.
func (e Element) Children() []Element {
	var out []Element
	for c := e.FirstChild(); c.Valid(); c = c.Next() {
		out = append(out, c)
	}
	return out
}

// Child returns the first direct child called name.
func (e Element) Child(name string) Element {
	for c := e.FirstChild(); c.Valid(); c = c.Next() {
		if c.Name() == name {
			return c
		}
	}
	return Element{h: NoHandle}
}

// NextNamed returns the first following sibling called name.
func (e Element) NextNamed(name string) Element {
	for s := e.Next(); s.Valid(); s = s.Next() {
		if s.Name() == name {
			return s
		}
	}
	return Element{h: NoHandle}
}

// Raw returns the source bytes of e, from its start tag to the end of its
// closing tag. The slice aliases the document buffer.
func (e Element) Raw() []byte {
	n := e.node()
	if n == nil || e.doc.src == nil {
		return nil
	}
	return e.doc.src[n.start:n.end]
}

// LocalName strips a "prefix:" from name.
func LocalName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}
