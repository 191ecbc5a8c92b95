package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"readapi/internal/node"
)

// XML writes the tree under a <response> root. Object members become child
// elements in order. A list becomes a wrapper element whose children are
// named by the singular of the wrapper, or "item" when the name has no
// distinct singular. Null values carry null="true".
type XML struct{}

func (XML) Name() string { return "xml" }

func (XML) Render(n *node.Node, _ Options) (*Output, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := encodeXML(enc, "response", n); err != nil {
		return nil, fmt.Errorf("render xml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("render xml: %w", err)
	}
	buf.WriteByte('\n')
	return &Output{ContentType: "application/xml; charset=utf-8", Body: buf.Bytes()}, nil
}

var nullAttr = xml.Attr{Name: xml.Name{Local: "null"}, Value: "true"}

func encodeXML(enc *xml.Encoder, name string, n *node.Node) error {
	start := xml.StartElement{Name: xml.Name{Local: elementName(name)}}
	if n.IsNull() {
		start.Attr = []xml.Attr{nullAttr}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		return enc.EncodeToken(start.End())
	}

	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	switch n.Kind {
	case node.Object:
		for _, m := range n.Members {
			if err := encodeXML(enc, m.Name, m.Value); err != nil {
				return err
			}
		}
	case node.List:
		child := itemName(name)
		for _, item := range n.Items {
			if err := encodeXML(enc, child, item); err != nil {
				return err
			}
		}
	default:
		if err := enc.EncodeToken(xml.CharData(n.String())); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func itemName(list string) string {
	singular := inflection.Singular(list)
	if singular == "" || singular == list {
		return "item"
	}
	return singular
}

// elementName maps a member name to a valid XML element name.
func elementName(name string) string {
	if name == "" {
		return "item"
	}
	var b strings.Builder
	for i, r := range name {
		valid := r == '_' || unicode.IsLetter(r) || (i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)))
		if !valid {
			if i == 0 && unicode.IsDigit(r) {
				b.WriteByte('_')
				b.WriteRune(r)
				continue
			}
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if strings.HasPrefix(strings.ToLower(out), "xml") {
		out = "_" + out
	}
	return out
}
