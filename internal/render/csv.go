package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"readapi/internal/node"
)

// CSV flattens records to one row each. Columns are the top-level member
// names in first-seen order. Nested objects and lists are written to a single
// cell as compact JSON; null is an empty cell. For a list envelope only the
// objects are written.
type CSV struct {
	threshold int
}

// NewCSV returns a CSV renderer that serves bodies larger than threshold
// bytes as attachments. Zero disables the size rule.
func NewCSV(threshold int) CSV {
	return CSV{threshold: threshold}
}

func (CSV) Name() string { return "csv" }

func (CSV) Variants() []string { return []string{"attachment", "inline"} }

func (c CSV) Render(n *node.Node, opts Options) (*Output, error) {
	records := csvRecords(n)

	var columns []string
	seen := make(map[string]bool)
	for _, rec := range records {
		for _, m := range rec.Members {
			if !seen[m.Name] {
				seen[m.Name] = true
				columns = append(columns, m.Name)
			}
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			cell, err := csvCell(rec.Get(col))
			if err != nil {
				return nil, err
			}
			row[i] = cell
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("render csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}

	attachment := false
	switch opts.Variant {
	case "attachment":
		attachment = true
	case "inline":
	default:
		attachment = c.threshold > 0 && buf.Len() > c.threshold
	}
	out := &Output{ContentType: "text/plain; charset=utf-8", Attachment: attachment, Body: buf.Bytes()}
	if attachment {
		out.ContentType = "text/csv; charset=utf-8"
	}
	return out, nil
}

func csvRecords(n *node.Node) []*node.Node {
	if n.IsNull() {
		return nil
	}
	if n.Kind == node.Object {
		if objects := n.Get("objects"); objects != nil && objects.Kind == node.List && n.Get("meta") != nil {
			n = objects
		}
	}
	switch n.Kind {
	case node.List:
		out := make([]*node.Node, 0, len(n.Items))
		for _, item := range n.Items {
			if item.Kind == node.Object {
				out = append(out, item)
			} else {
				out = append(out, node.NewObject().Set("value", item))
			}
		}
		return out
	case node.Object:
		return []*node.Node{n}
	default:
		return []*node.Node{node.NewObject().Set("value", n)}
	}
}

func csvCell(n *node.Node) (string, error) {
	if n.IsNull() {
		return "", nil
	}
	if n.Kind == node.Scalar {
		return n.String(), nil
	}
	b, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("render csv cell: %w", err)
	}
	return string(b), nil
}
