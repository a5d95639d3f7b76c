// Package operation implements the template every LMS domain operation follows:
// validate, authenticate, request under the retry policy, parse, and wrap the
// outcome in a result.Envelope.
package operation

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Shape tells the runner how to read a 2xx body.
type Shape int

const (
	// ShapeList reads the "results" array of a list endpoint.
	ShapeList Shape = iota
	// ShapeEntity returns the whole decoded body.
	ShapeEntity
)

// Args are the caller-supplied parameters of one invocation.
type Args map[string]string

// Get returns the trimmed value of key.
func (a Args) Get(key string) string {
	return strings.TrimSpace(a[key])
}

// Param is a required parameter.
type Param struct {
	// Name is the argument name callers use, e.g. "student_id".
	Name string
	// Query is the query parameter it maps to. Empty means it fills a path
	// placeholder or a body field instead.
	Query string
	// Label appears in the validation message "<Label> cannot be empty".
	Label string
	// Hidden keeps free-text values out of result metadata.
	Hidden bool
}

// Filter is an optional parameter. It is sent as a query parameter when
// Query is set; otherwise only Body consumes it.
type Filter struct {
	Name  string
	Query string
}

// Spec describes one domain operation.
type Spec struct {
	// Name is the capability name, e.g. "get_student_grades".
	Name        string
	Description string
	// Endpoint is a low-cardinality metrics label, e.g. "grades".
	Endpoint string
	Method   string
	// Path is relative to the API prefix and may contain {name} placeholders.
	Path     string
	Required []Param
	Optional []Filter
	Shape    Shape
	// CountKey names the metadata entry holding the list length.
	CountKey string
	// Mutating operations carry an idempotency key and are recorded.
	Mutating bool
	// Body builds the JSON body of a mutating request.
	Body func(Args) any
	// Check runs after required parameters are present; a non-nil error is a
	// validation failure.
	Check func(Args) error
}

// ParamNames lists required then optional argument names.
func (s Spec) ParamNames() (required, optional []string) {
	for _, p := range s.Required {
		required = append(required, p.Name)
	}
	for _, f := range s.Optional {
		optional = append(optional, f.Name)
	}
	return required, optional
}

func (s Spec) validate(args Args) error {
	for _, p := range s.Required {
		if args.Get(p.Name) == "" {
			return fmt.Errorf("%s cannot be empty", p.Label)
		}
	}
	if s.Check != nil {
		return s.Check(args)
	}
	return nil
}

func (s Spec) path(args Args) string {
	path := s.Path
	for _, p := range s.Required {
		path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(args.Get(p.Name)))
	}
	return path
}

func (s Spec) query(args Args) url.Values {
	q := url.Values{}
	for _, p := range s.Required {
		if p.Query != "" {
			q.Set(p.Query, args.Get(p.Name))
		}
	}
	for _, f := range s.Optional {
		if v := args.Get(f.Name); v != "" && f.Query != "" {
			q.Set(f.Query, v)
		}
	}
	return q
}

// identity returns the required parameter values, reported as metadata on
// entity and mutation results.
func (s Spec) identity(args Args) map[string]any {
	md := make(map[string]any, len(s.Required))
	for _, p := range s.Required {
		if !p.Hidden {
			md[p.Name] = args.Get(p.Name)
		}
	}
	return md
}

// SortSpecs orders specs by name.
func SortSpecs(specs []Spec) {
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
}
