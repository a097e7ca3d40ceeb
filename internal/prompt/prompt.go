// Package prompt loads prompt templates and fills their <<KEY>> markers.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type Template string

const (
	TemplateSQL             Template = "sql"
	TemplateSampleQuestions Template = "sample_questions"
	TemplateAnalysis        Template = "analysis"
)

// Placeholder keys understood by the shipped templates.
const (
	KeyTables    = "TABLES"
	KeyQuestion  = "QUESTION"
	KeyDataFrame = "DATAFRAME"
)

var markerPattern = regexp.MustCompile(`<<([A-Z][A-Z0-9_]*)>>`)

// Templates lists every template a session may build.
func Templates() []Template {
	return []Template{TemplateSQL, TemplateSampleQuestions, TemplateAnalysis}
}

// FileName is the file (or object) name a template is stored under.
func (t Template) FileName() string {
	return string(t) + "_prompt.txt"
}

func (t Template) valid() bool {
	switch t {
	case TemplateSQL, TemplateSampleQuestions, TemplateAnalysis:
		return true
	default:
		return false
	}
}

// Source reads raw template text by file name.
type Source interface {
	Read(ctx context.Context, fileName string) (string, error)
}

type Builder struct {
	source Source
}

func NewBuilder(source Source) *Builder {
	return &Builder{source: source}
}

// Build reads template t and fills it with values.
func (b *Builder) Build(ctx context.Context, t Template, values map[string]string) (string, error) {
	if !t.valid() {
		return "", &TemplateError{Name: string(t), Err: fmt.Errorf("unknown template")}
	}
	if b.source == nil {
		return "", &TemplateError{Name: t.FileName(), Err: fmt.Errorf("no template source configured")}
	}
	text, err := b.source.Read(ctx, t.FileName())
	if err != nil {
		return "", &TemplateError{Name: t.FileName(), Err: err}
	}
	filled, err := Fill(text, values)
	if err != nil {
		var unresolved *UnresolvedPlaceholderError
		if errors.As(err, &unresolved) {
			unresolved.Template = t.FileName()
		}
		return "", err
	}
	return filled, nil
}

// Fill replaces every <<KEY>> marker in text with values[KEY] in a single
// pass, so marker-like text inside a value is never expanded. Keys with no
// marker in text are ignored; markers with no value are reported as an
// *UnresolvedPlaceholderError.
func Fill(text string, values map[string]string) (string, error) {
	missing := map[string]struct{}{}
	filled := markerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(marker, "<<"), ">>")
		value, ok := values[key]
		if !ok {
			missing[key] = struct{}{}
			return marker
		}
		return value
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", &UnresolvedPlaceholderError{Names: names}
	}
	return filled, nil
}
