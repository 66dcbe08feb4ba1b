package recovery

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

// ErrUnparseable is returned when no element tree could be recovered.
var ErrUnparseable = errors.New("unparseable xml")

// SyntheticRoot is the element used to wrap sibling top-level elements.
const SyntheticRoot = "root"

var errRootCount = errors.New("document must have exactly one root element")

var xmlDeclRe = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)

// ParseXMLLoose recovers an element tree from model output.
// Fences are stripped and bare ampersands escaped first. A truncated document
// is closed at its last complete token. When the text still does not form a
// single root it is wrapped in <root> and parsed once more.
func ParseXMLLoose(raw string) (*etree.Element, error) {
	text := SanitizeXML(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", ErrUnparseable)
	}

	if root, err := parseSingleRoot(text); err == nil {
		return root, nil
	}

	wrapped := "<" + SyntheticRoot + ">" + xmlDeclRe.ReplaceAllString(text, "") + "</" + SyntheticRoot + ">"
	root, err := parseSingleRoot(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if len(root.ChildElements()) == 0 {
		return nil, fmt.Errorf("%w: no elements found", ErrUnparseable)
	}
	return root, nil
}

// SanitizeXML strips fences and escapes ampersands that do not start an entity.
func SanitizeXML(raw string) string {
	return EscapeBareAmpersands(StripFences(raw))
}

// SerializeElement renders el as an indented standalone document.
func SerializeElement(el *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	doc.Indent(2)
	return doc.WriteToString()
}

func parseSingleRoot(text string) (*etree.Element, error) {
	doc, err := readDocument(text)
	if err != nil {
		fixed, ok := closeTruncated(text)
		if !ok {
			return nil, err
		}
		if doc, err = readDocument(fixed); err != nil {
			return nil, err
		}
	}

	elems := doc.ChildElements()
	if len(elems) != 1 {
		return nil, errRootCount
	}
	return elems[0], nil
}

func readDocument(text string) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = true
	if err := doc.ReadFromString(text); err != nil {
		return nil, err
	}
	return doc, nil
}

// closeTruncated repairs unbalanced markup the way a recovering parser does.
// An end tag that matches an element deeper in the stack closes every element
// opened after it, a stray end tag is dropped, and the text is cut after its
// last well-formed token with every element still open closed. It reports
// false when there is nothing to repair.
func closeTruncated(text string) (string, bool) {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false

	var (
		b       strings.Builder
		stack   []string
		changed bool
	)
	for {
		from := dec.InputOffset()
		tok, err := dec.RawToken()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				changed = true
			}
			break
		}
		to := dec.InputOffset()

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, qualified(t.Name))
		case xml.EndElement:
			name := qualified(t.Name)
			depth := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == name {
					depth = i
					break
				}
			}
			if depth < 0 {
				changed = true
				continue
			}
			for i := len(stack) - 1; i > depth; i-- {
				b.WriteString("</" + stack[i] + ">")
				changed = true
			}
			stack = stack[:depth]
		}
		b.WriteString(text[from:to])
	}

	if len(stack) > 0 {
		changed = true
	}
	if !changed || b.Len() == 0 {
		return "", false
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString("</" + stack[i] + ">")
	}
	return b.String(), true
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

var knownEntities = []string{"amp;", "lt;", "gt;", "apos;", "quot;"}

// EscapeBareAmpersands rewrites every & that does not begin a predefined
// entity or a numeric character reference as &amp;.
func EscapeBareAmpersands(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		if s[i] != '&' {
			b.WriteByte(s[i])
			continue
		}
		if startsEntity(s[i+1:]) {
			b.WriteByte('&')
		} else {
			b.WriteString("&amp;")
		}
	}
	return b.String()
}

func startsEntity(rest string) bool {
	for _, e := range knownEntities {
		if strings.HasPrefix(rest, e) {
			return true
		}
	}
	if !strings.HasPrefix(rest, "#") {
		return false
	}
	rest = rest[1:]
	isDigit := func(c byte) bool { return c >= '0' && c <= '9' }
	if strings.HasPrefix(rest, "x") || strings.HasPrefix(rest, "X") {
		rest = rest[1:]
		isDigit = func(c byte) bool {
			return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		}
	}
	n := 0
	for n < len(rest) && isDigit(rest[n]) {
		n++
	}
	return n > 0 && n < len(rest) && rest[n] == ';'
}
