package prompt

import (
	"fmt"
	"strings"
)

// TemplateError reports a template that is missing or unreadable.
type TemplateError struct {
	Name string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("prompt template %q: %v", e.Name, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// UnresolvedPlaceholderError lists markers left in a template after filling.
type UnresolvedPlaceholderError struct {
	Template string
	Names    []string
}

func (e *UnresolvedPlaceholderError) Error() string {
	markers := make([]string, len(e.Names))
	for i, name := range e.Names {
		markers[i] = "<<" + name + ">>"
	}
	if e.Template == "" {
		return "unresolved placeholders: " + strings.Join(markers, ", ")
	}
	return fmt.Sprintf("prompt template %q: unresolved placeholders: %s", e.Template, strings.Join(markers, ", "))
}
