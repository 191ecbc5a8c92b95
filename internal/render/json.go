package render

import (
	"bytes"
	"encoding/json"
	"fmt"

	"readapi/internal/node"
)

type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Render(n *node.Node, _ Options) (*Output, error) {
	body, err := indentJSON(n)
	if err != nil {
		return nil, err
	}
	return &Output{ContentType: "application/json; charset=utf-8", Body: body}, nil
}

func indentJSON(n *node.Node) ([]byte, error) {
	b, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render json: %w", err)
	}
	return append(b, '\n'), nil
}

// JSONP wraps the JSON body in a call to the requested callback.
type JSONP struct{}

func (JSONP) Name() string { return "jsonp" }

func (JSONP) Render(n *node.Node, opts Options) (*Output, error) {
	cb := opts.Callback
	if cb == "" {
		cb = "callback"
	}
	if !ValidCallback(cb) {
		return nil, fmt.Errorf("render jsonp: invalid callback %q", cb)
	}
	body, err := indentJSON(n)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(cb) + 3)
	buf.WriteString(cb)
	buf.WriteByte('(')
	buf.Write(bytes.TrimRight(body, "\n"))
	buf.WriteString(");\n")
	return &Output{ContentType: "application/javascript; charset=utf-8", Body: buf.Bytes()}, nil
}
