package parser

import (
	"bytes"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// TopicHeadingLevel is the heading level of canonical requirement topics.
const TopicHeadingLevel = 3

var (
	outlineParser     goldmark.Markdown
	outlineParserOnce sync.Once
)

func getOutlineParser() goldmark.Markdown {
	outlineParserOnce.Do(func() {
		outlineParser = goldmark.New()
	})
	return outlineParser
}

// OutlineTopic summarises one `### <Topic>` section of a canonical spec.
type OutlineTopic struct {
	Name    string `json:"name"`
	Line    int    `json:"line"`
	Bullets int    `json:"bullets"`
}

// Outline lists the topic sections of a canonical document together with the
// number of top-level list items each one holds. It is informational; patch
// addressing never goes through the AST.
func Outline(content []byte) []OutlineTopic {
	doc := getOutlineParser().Parser().Parse(text.NewReader(content))

	var topics []OutlineTopic
	current := -1
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			if n.Level < TopicHeadingLevel {
				current = -1
				continue
			}
			if n.Level > TopicHeadingLevel {
				continue
			}
			topics = append(topics, OutlineTopic{
				Name: string(bytes.TrimSpace(inlineText(n, content))),
				Line: lineOf(n, content),
			})
			current = len(topics) - 1
		case *ast.List:
			if current >= 0 {
				topics[current].Bullets += n.ChildCount()
			}
		}
	}
	return topics
}

// inlineText concatenates the text segments below n.
func inlineText(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			buf.Write(inlineText(c, source))
		}
	}
	return buf.Bytes()
}

// lineOf returns the 1-based source line of a block node.
func lineOf(n ast.Node, source []byte) int {
	lines := n.Lines()
	if lines == nil || lines.Len() == 0 {
		return 0
	}
	return bytes.Count(source[:lines.At(0).Start], []byte("\n")) + 1
}
