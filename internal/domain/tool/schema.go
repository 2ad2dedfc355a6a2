package tool

import (
	"fmt"
	"sort"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/condition"
)

// Source selects where a trigger-built argument value comes from.
type Source string

const (
	SourceEvent   Source = "event"
	SourceUser    Source = "user"
	SourceLiteral Source = "literal"
)

var validTypes = map[string]bool{
	"": true, "string": true, "number": true, "integer": true,
	"boolean": true, "object": true, "array": true,
}

// Property describes one argument and how a trigger fills it.
type Property struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Source defaults to event.
	Source Source `json:"source,omitempty" yaml:"source,omitempty"`
	// Path is a dotted path into the event document. Defaults to data.<name>.
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Default any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Schema describes a tool's arguments.
type Schema struct {
	Properties map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required   []string            `json:"required,omitempty" yaml:"required,omitempty"`
}

// Validate checks property sources and types and that required names exist.
func (s *Schema) Validate() error {
	for name, p := range s.Properties {
		switch p.Source {
		case "", SourceEvent, SourceUser:
		case SourceLiteral:
			if p.Default == nil {
				return fmt.Errorf("%w: property %q: literal source needs a default", domain.ErrValidation, name)
			}
		default:
			return fmt.Errorf("%w: property %q: unknown source %q", domain.ErrValidation, name, p.Source)
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("%w: property %q: unknown type %q", domain.ErrValidation, name, p.Type)
		}
	}
	for _, r := range s.Required {
		if _, ok := s.Properties[r]; !ok {
			return fmt.Errorf("%w: required property %q is not declared", domain.ErrValidation, r)
		}
	}
	return nil
}

// BuildArgs maps an event document onto call arguments. Event-sourced
// properties read their path and fall back to Default; user-sourced ones take
// userID; literal ones take Default. A required property left unset is a
// validation error.
func (s *Schema) BuildArgs(doc map[string]any, userID string) (map[string]any, error) {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make(map[string]any, len(names))
	for _, name := range names {
		p := s.Properties[name]
		switch p.Source {
		case SourceUser:
			if userID != "" {
				args[name] = userID
			}
		case SourceLiteral:
			args[name] = p.Default
		default:
			path := p.Path
			if path == "" {
				path = "data." + name
			}
			v := condition.Lookup(doc, path)
			switch {
			case v != condition.Absent:
				args[name] = v
			case p.Default != nil:
				args[name] = p.Default
			}
		}
	}

	for _, r := range s.Required {
		if v, ok := args[r]; !ok || v == nil {
			return nil, fmt.Errorf("%w: missing required argument %q", domain.ErrValidation, r)
		}
	}
	return args, nil
}

// CallArgs merges arguments supplied by a direct caller with the
// server-filled properties. User-sourced properties always carry userID
// (or are dropped for anonymous calls) and literals always carry Default,
// whatever the caller sent.
func (s *Schema) CallArgs(given map[string]any, userID string) map[string]any {
	args := make(map[string]any, len(given)+len(s.Properties))
	for k, v := range given {
		args[k] = v
	}
	for name, p := range s.Properties {
		switch p.Source {
		case SourceUser:
			if userID != "" {
				args[name] = userID
			} else {
				delete(args, name)
			}
		case SourceLiteral:
			args[name] = p.Default
		}
	}
	return args
}
