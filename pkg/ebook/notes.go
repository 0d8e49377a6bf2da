package ebook

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	gm_ast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// NotesFile is the name of the notes inside the additional content folder.
const NotesFile = "notes.md"

// notesSnapshot is the additional content handed from the interactive side
// to the save worker.
type notesSnapshot struct {
	text string
}

// headingTitle returns the text of the first markdown heading in data, or
// "" when there is none.
func headingTitle(data []byte) string {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(data))

	var title string
	_ = gm_ast.Walk(doc, func(n gm_ast.Node, entering bool) (gm_ast.WalkStatus, error) {
		if !entering || n.Kind() != gm_ast.KindHeading {
			return gm_ast.WalkContinue, nil
		}
		title = inlineText(n, data)
		return gm_ast.WalkStop, nil
	})
	return title
}

func inlineText(n gm_ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = gm_ast.Walk(n, func(c gm_ast.Node, entering bool) (gm_ast.WalkStatus, error) {
		if !entering {
			return gm_ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *gm_ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *gm_ast.String:
			buf.Write(t.Value)
		}
		return gm_ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}
