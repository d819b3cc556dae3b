// Package markdown extracts the heading structure of textbook text.
// Markdown headings are read through goldmark; plain-text "Chapter N" and
// "N.N Title" lines produced by text extraction are recognized as well.
package markdown

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

var (
	chapterLine = regexp.MustCompile(`(?im)^[ \t]*chapter[ \t]+([0-9]+)[ \t]*[:.\-]?[ \t]*(.*?)[ \t]*$`)
	sectionLine = regexp.MustCompile(`(?m)^[ \t]*([0-9]+\.[0-9]+)[ \t]+([A-Z][^\n]{0,80}?)[ \t]*$`)
)

// Heading is a titled position in a document.
type Heading struct {
	Offset int    // byte offset of the heading line
	Level  int    // 1 for chapters / H1, deeper for sections
	Title  string // display title
}

// Outline is the heading structure of one document.
type Outline struct {
	Headings []Heading // source order
	Contents []string  // table of contents as header paths: "Fractions > Proper fractions"
}

// TitleAt returns the title of the nearest heading at or before offset.
func (o *Outline) TitleAt(offset int) string {
	if o == nil {
		return ""
	}
	i := sort.Search(len(o.Headings), func(i int) bool { return o.Headings[i].Offset > offset })
	if i == 0 {
		return ""
	}
	return o.Headings[i-1].Title
}

// Parser builds outlines.
type Parser struct {
	md goldmark.Markdown
}

// NewParser creates a parser configured with goldmark.
func NewParser() *Parser {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Parser{md: md}
}

// Outline parses source and returns its headings.
func (p *Parser) Outline(source []byte) (*Outline, error) {
	doc := p.md.Parser().Parse(text.NewReader(source))

	var headings []Heading
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Lines().Len() > 0 {
			var buf bytes.Buffer
			inlineText(h, source, &buf)
			if title := strings.TrimSpace(buf.String()); title != "" {
				headings = append(headings, Heading{
					Offset: lineStart(source, h.Lines().At(0).Start),
					Level:  h.Level,
					Title:  title,
				})
			}
		}
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk headings: %w", err)
	}

	headings = append(headings, plainTextHeadings(source)...)
	headings = dedupe(headings)

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var contents []string
	flatten(tree.Items, nil, &contents)
	if len(contents) == 0 {
		for _, h := range headings {
			contents = append(contents, h.Title)
		}
	}

	return &Outline{Headings: headings, Contents: contents}, nil
}

// plainTextHeadings finds chapter and numbered-section lines.
func plainTextHeadings(source []byte) []Heading {
	var out []Heading
	for _, m := range chapterLine.FindAllSubmatchIndex(source, -1) {
		title := fmt.Sprintf("Chapter %s", source[m[2]:m[3]])
		if name := strings.TrimSpace(string(source[m[4]:m[5]])); name != "" {
			title += ": " + name
		}
		out = append(out, Heading{Offset: m[0], Level: 1, Title: title})
	}
	for _, m := range sectionLine.FindAllSubmatchIndex(source, -1) {
		title := fmt.Sprintf("%s %s", source[m[2]:m[3]], strings.TrimSpace(string(source[m[4]:m[5]])))
		out = append(out, Heading{Offset: m[0], Level: 2, Title: title})
	}
	return out
}

// dedupe sorts headings by offset and keeps the first heading at each offset.
func dedupe(headings []Heading) []Heading {
	sort.SliceStable(headings, func(i, j int) bool { return headings[i].Offset < headings[j].Offset })
	out := headings[:0]
	for i, h := range headings {
		if i > 0 && h.Offset == headings[i-1].Offset {
			continue
		}
		out = append(out, h)
	}
	return out
}

// flatten walks TOC items depth-first into header paths.
func flatten(items toc.Items, ancestors []string, out *[]string) {
	for _, item := range items {
		path := append(append([]string(nil), ancestors...), string(item.Title))
		*out = append(*out, strings.Join(path, " > "))
		if len(item.Items) > 0 {
			flatten(item.Items, path, out)
		}
	}
}

func inlineText(n ast.Node, source []byte, buf *bytes.Buffer) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(source))
			if v.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(v.Value)
		default:
			inlineText(c, source, buf)
		}
	}
}

func lineStart(source []byte, pos int) int {
	if pos > len(source) {
		pos = len(source)
	}
	return bytes.LastIndexByte(source[:pos], '\n') + 1
}
