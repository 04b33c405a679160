// Package catalog holds the static intake data: supported languages and their
// locale codes, localized navigation keywords, complaint categories, and the
// ordered list of intake questions.
package catalog

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Language is a supported input language.
type Language struct {
	Name   string `yaml:"name" json:"name"`
	Locale string `yaml:"locale" json:"locale"`
}

// SpeechLocale returns the locale used for speech synthesis, with the region
// part upper-cased ("hi-in" becomes "hi-IN").
func (l Language) SpeechLocale() string {
	lang, region, ok := strings.Cut(l.Locale, "-")
	if !ok {
		return l.Locale
	}
	return lang + "-" + strings.ToUpper(region)
}

// Commands are the localized navigation keywords for one language.
type Commands struct {
	Next   string `yaml:"next" json:"next"`
	Back   string `yaml:"back" json:"back"`
	Submit string `yaml:"submit" json:"submit"`
	Repeat string `yaml:"repeat" json:"repeat"`
}

// Question is one step of the guided intake.
type Question struct {
	Field    string            `yaml:"field" json:"field"`
	Prompts  map[string]string `yaml:"prompts" json:"-"`
	Required bool              `yaml:"required" json:"required"`
}

// Prompt returns the prompt text stored for language, if any.
func (q Question) Prompt(language string) (string, bool) {
	p, ok := q.Prompts[language]
	return p, ok
}

// Category is a complaint category with its sub-categories and the question
// fields that do not apply to it.
type Category struct {
	Name          string   `yaml:"name" json:"name"`
	Anonymous     bool     `yaml:"anonymous" json:"anonymous"`
	SubCategories []string `yaml:"sub_categories" json:"subCategories"`
	Excluded      []string `yaml:"excluded" json:"-"`
	FormFields    []string `yaml:"form_fields" json:"formFields"`
}

// HasSubCategory reports whether name is one of the category's sub-categories.
func (c Category) HasSubCategory(name string) bool {
	return slices.Contains(c.SubCategories, name)
}

type document struct {
	Canonical  string              `yaml:"canonical"`
	Languages  []Language          `yaml:"languages"`
	Commands   map[string]Commands `yaml:"commands"`
	IDTypes    []string            `yaml:"id_types"`
	Categories []Category          `yaml:"categories"`
	Questions  []Question          `yaml:"questions"`
}

// Registry is a read-only view over a parsed catalog document. It is safe for
// concurrent use.
type Registry struct {
	doc        document
	languages  map[string]Language
	categories map[string]Category
}

// Default parses the embedded catalog. It panics if the embedded document is
// invalid, which can only happen through a bad edit of catalog.yaml.
func Default() *Registry {
	r, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded document: %v", err))
	}
	return r
}

// Parse builds a Registry from a YAML document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	r := &Registry{
		doc:        doc,
		languages:  make(map[string]Language, len(doc.Languages)),
		categories: make(map[string]Category, len(doc.Categories)),
	}
	for _, l := range doc.Languages {
		r.languages[l.Name] = l
	}
	for _, c := range doc.Categories {
		r.categories[c.Name] = c
	}

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) validate() error {
	if _, ok := r.languages[r.doc.Canonical]; !ok {
		return fmt.Errorf("canonical language %q is not a listed language", r.doc.Canonical)
	}
	if _, ok := r.doc.Commands[r.doc.Canonical]; !ok {
		return fmt.Errorf("no commands for canonical language %q", r.doc.Canonical)
	}

	fields := make(map[string]bool, len(r.doc.Questions))
	for _, q := range r.doc.Questions {
		if fields[q.Field] {
			return fmt.Errorf("duplicate question field %q", q.Field)
		}
		fields[q.Field] = true
		if _, ok := q.Prompts[r.doc.Canonical]; !ok {
			return fmt.Errorf("question %q has no %s prompt", q.Field, r.doc.Canonical)
		}
	}

	for _, c := range r.doc.Categories {
		for _, f := range c.Excluded {
			if !fields[f] {
				return fmt.Errorf("category %q excludes unknown field %q", c.Name, f)
			}
		}
	}
	return nil
}

// Canonical returns the name of the language all answers are mirrored into.
func (r *Registry) Canonical() string {
	return r.doc.Canonical
}

func (r *Registry) Languages() []Language {
	return slices.Clone(r.doc.Languages)
}

func (r *Registry) Language(name string) (Language, bool) {
	l, ok := r.languages[name]
	return l, ok
}

// Commands returns the keyword table for language, falling back to the
// canonical language's table when none is defined.
func (r *Registry) Commands(language string) Commands {
	if c, ok := r.doc.Commands[language]; ok {
		return c
	}
	return r.doc.Commands[r.doc.Canonical]
}

func (r *Registry) Categories() []Category {
	return slices.Clone(r.doc.Categories)
}

func (r *Registry) Category(name string) (Category, bool) {
	c, ok := r.categories[name]
	return c, ok
}

// Questions returns the full catalog in order.
func (r *Registry) Questions() []Question {
	return slices.Clone(r.doc.Questions)
}

// QuestionsFor returns the ordered questions that apply to category. An
// unknown category gets the full catalog.
func (r *Registry) QuestionsFor(category string) []Question {
	c, ok := r.categories[category]
	if !ok {
		return r.Questions()
	}

	out := make([]Question, 0, len(r.doc.Questions))
	for _, q := range r.doc.Questions {
		if slices.Contains(c.Excluded, q.Field) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func (r *Registry) IDTypes() []string {
	return slices.Clone(r.doc.IDTypes)
}

// IsIDType reports whether v is exactly one of the accepted ID type labels.
func (r *Registry) IsIDType(v string) bool {
	return slices.Contains(r.doc.IDTypes, v)
}
