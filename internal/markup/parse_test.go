package markup

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Tree(t *testing.T) {
	src := []byte(`<?xml version="1.0"?>
<!-- pushed by backend -->
<reach:contents xmlns:reach="urn:reach">
  <announcement id="a1" category="promo" id="shadowed">
    <title>Tom &amp; Jerry &lt;3</title>
    <body><![CDATA[<b>bold</b>]]></body>
  </announcement>
  <poll id="p1"/>
  <datapush id="d1">  keep  spaces  </datapush>
</reach:contents>`)

	doc, err := Parse(src)
	require.NoError(t, err)

	root := doc.Root()
	assert.Equal(t, "reach:contents", root.Name())
	assert.Equal(t, "contents", root.LocalName())
	assert.False(t, root.HasText())
	ns, ok := root.Attr("xmlns:reach")
	assert.True(t, ok)
	assert.Equal(t, "urn:reach", ns)

	kids := root.Children()
	require.Len(t, kids, 3)
	assert.Equal(t, []string{"announcement", "poll", "datapush"}, []string{kids[0].Name(), kids[1].Name(), kids[2].Name()})

	ann := kids[0]
	id, _ := ann.Attr("id")
	assert.Equal(t, "a1", id, "first attribute wins")
	assert.Len(t, ann.Attrs(), 3)
	assert.Equal(t, "Tom & Jerry <3", ann.Child("title").Text())
	assert.Equal(t, "<b>bold</b>", ann.Child("body").Text())
	assert.Equal(t, root.Handle(), ann.Parent().Handle())

	assert.Equal(t, "  keep  spaces  ", kids[2].Text())
	assert.Equal(t, kids[1].Handle(), kids[0].Next().Handle())
	assert.Equal(t, kids[1].Handle(), kids[2].Prev().Handle())
	assert.False(t, kids[2].Next().Valid())
	assert.Equal(t, kids[2].Handle(), kids[0].NextNamed("datapush").Handle())
	assert.False(t, kids[0].NextNamed("missing").Valid())

	assert.Equal(t, `<poll id="p1"/>`, string(kids[1].Raw()))
	assert.Contains(t, string(ann.Raw()), `<title>Tom &amp; Jerry &lt;3</title>`)
}

func TestParse_NumericEntities(t *testing.T) {
	doc, err := Parse([]byte(`<t a="&#65;&#x42;">&#233;t&#xE9;</t>`))
	require.NoError(t, err)
	a, _ := doc.Root().Attr("a")
	assert.Equal(t, "AB", a)
	assert.Equal(t, "été", doc.Root().Text())
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ``},
		{"only whitespace", "  \n "},
		{"unterminated element", `<a><b></b>`},
		{"unterminated tag", `<a href="x"`},
		{"unterminated attribute", `<a href="x></a>`},
		{"unquoted attribute", `<a href=x></a>`},
		{"attribute without value", `<a checked></a>`},
		{"mismatched close", `<a><b></a></b>`},
		{"close without open", `</a>`},
		{"unknown entity", `<a>&nbsp;</a>`},
		{"unterminated entity", `<a>&amp</a>`},
		{"bad numeric entity", `<a>&#xZZ;</a>`},
		{"two roots", `<a/><b/>`},
		{"text outside root", `hello<a/>`},
		{"unterminated comment", `<a><!-- </a>`},
		{"unterminated cdata", `<a><![CDATA[x</a>`},
		{"lt in attribute", `<a b="<"/>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(tt.src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
			assert.Nil(t, doc)
		})
	}
}

func TestParse_WhitespaceText(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		text    string
		hasText bool
	}{
		{"whitespace-only leaf keeps it", "<a>   </a>", "   ", true},
		{"newline leaf keeps it", "<a>\n\t</a>", "\n\t", true},
		{"empty leaf", "<a></a>", "", false},
		{"whitespace around children is dropped", "<a>\n  <b/>\n</a>", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.text, doc.Root().Text())
			assert.Equal(t, tt.hasText, doc.Root().HasText())
		})
	}
}

func TestParse_SkipsLeadingBOM(t *testing.T) {
	doc, err := Parse([]byte("\ufeff<a id=\"x\"/>"))
	require.NoError(t, err)
	assert.Equal(t, "a", doc.Root().Name())
	assert.Equal(t, `<a id="x"/>`, string(doc.Root().Raw()))

	_, err = Parse([]byte("<a/>\ufeff"))
	assert.ErrorIs(t, err, ErrMalformed, "a BOM is only skipped at the start")
}

func TestParse_IgnoresDoctype(t *testing.T) {
	doc, err := Parse([]byte(`<!DOCTYPE note [<!ENTITY x "y">]><note>ok</note>`))
	require.NoError(t, err)
	assert.Equal(t, "ok", doc.Root().Text())
}

func TestParse_IndependentBuffers(t *testing.T) {
	buf := []byte(`<a>one</a>`)
	first, err := Parse(buf)
	require.NoError(t, err)

	copy(buf, []byte(`<b>two</b>`))
	second, err := Parse(buf)
	require.NoError(t, err)

	assert.Equal(t, "a", first.Root().Name())
	assert.Equal(t, "one", first.Root().Text())
	assert.Equal(t, "b", second.Root().Name())
}

func TestDocument_Release(t *testing.T) {
	doc, err := Parse([]byte(`<a><b/></a>`))
	require.NoError(t, err)
	child := doc.Root().FirstChild()
	require.True(t, child.Valid())

	doc.Release()

	assert.False(t, child.Valid())
	assert.Equal(t, "", child.Name())
	assert.Nil(t, child.Raw())
	assert.False(t, doc.Root().Valid())
	assert.Equal(t, 0, doc.Len())
}

func TestElement_ZeroValue(t *testing.T) {
	var e Element
	assert.False(t, e.Valid())
	assert.Equal(t, NoHandle, e.Handle())
	assert.Nil(t, e.Children())
	_, ok := e.Attr("x")
	assert.False(t, ok)
	assert.Equal(t, "def", e.AttrOr("x", "def"))
}
