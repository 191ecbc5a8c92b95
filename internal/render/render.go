// Package render turns node trees into response bodies, one renderer per
// output format.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"readapi/internal/node"
)

// Options configures a single rendering.
type Options struct {
	// Callback is the JSONP function name.
	Callback string
	// Variant is the part of the format after ':', e.g. "attachment" in
	// "csv:attachment".
	Variant string
}

// Output is a rendered body and how to serve it.
type Output struct {
	ContentType string
	Attachment  bool
	Body        []byte
}

// Renderer converts a tree to bytes. Renderers are stateless and safe for
// concurrent use.
type Renderer interface {
	Name() string
	Render(n *node.Node, opts Options) (*Output, error)
}

// Variants is implemented by renderers accepting "name:variant" formats.
type Variants interface {
	Variants() []string
}

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][0-9A-Za-z_$]*(\.[A-Za-z_$][0-9A-Za-z_$]*)*$`)

// ValidCallback reports whether name is safe to emit as a JSONP function.
func ValidCallback(name string) bool {
	return callbackPattern.MatchString(name)
}

// Registry maps format names to renderers. It is filled at startup.
type Registry struct {
	renderers map[string]Renderer
}

func NewRegistry() *Registry {
	return &Registry{renderers: make(map[string]Renderer)}
}

// Default returns a registry holding every built-in renderer.
func Default(csvAttachmentThreshold int) *Registry {
	r := NewRegistry()
	for _, rd := range []Renderer{JSON{}, JSONP{}, NewCSV(csvAttachmentThreshold), XML{}, YAML{}} {
		if err := r.Register(rd); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(rd Renderer) error {
	if _, exists := r.renderers[rd.Name()]; exists {
		return fmt.Errorf("renderer %q already registered", rd.Name())
	}
	r.renderers[rd.Name()] = rd
	return nil
}

func (r *Registry) Get(name string) (Renderer, bool) {
	rd, ok := r.renderers[name]
	return rd, ok
}

// Formats returns every accepted format string, variants included.
func (r *Registry) Formats() []string {
	var out []string
	for name, rd := range r.renderers {
		out = append(out, name)
		if v, ok := rd.(Variants); ok {
			for _, variant := range v.Variants() {
				out = append(out, name+":"+variant)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Render renders n in the given format.
func (r *Registry) Render(format string, n *node.Node, opts Options) (*Output, error) {
	name, variant, _ := strings.Cut(format, ":")
	rd, ok := r.renderers[name]
	if !ok {
		return nil, fmt.Errorf("unknown format %q", format)
	}
	opts.Variant = variant
	return rd.Render(n, opts)
}
