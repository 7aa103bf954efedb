// Package templates renders customer-facing message texts from an embedded YAML catalogue.
package templates

import (
	_ "embed"
	"fmt"
	"math/rand"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalogue []byte

// Data is what a template can reference.
type Data struct {
	Name        string
	Service     string
	Staff       string
	Business    string
	ScheduledAt time.Time
}

var genitiveMonths = [...]string{
	"", "января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// Set holds parsed message variants keyed by message name.
type Set struct {
	variants map[string][]*template.Template
	business string
	loc      *time.Location
	pick     func(n int) int
}

// LoadDefault parses the embedded catalogue.
func LoadDefault(business string, loc *time.Location) (*Set, error) {
	return Load(defaultCatalogue, business, loc)
}

// Load parses a YAML document mapping keys to lists of template variants.
func Load(doc []byte, business string, loc *time.Location) (*Set, error) {
	if loc == nil {
		loc = time.UTC
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse message catalogue: %w", err)
	}

	funcs := template.FuncMap{
		"date": func(t time.Time) string {
			t = t.In(loc)
			return fmt.Sprintf("%d %s", t.Day(), genitiveMonths[t.Month()])
		},
		"clock": func(t time.Time) string {
			return t.In(loc).Format("15:04")
		},
	}

	s := &Set{
		variants: make(map[string][]*template.Template, len(raw)),
		business: business,
		loc:      loc,
		pick:     rand.Intn,
	}
	for key, texts := range raw {
		if len(texts) == 0 {
			return nil, fmt.Errorf("message %q has no variants", key)
		}
		for i, text := range texts {
			tpl, err := template.New(fmt.Sprintf("%s#%d", key, i)).
				Funcs(funcs).
				Option("missingkey=error").
				Parse(strings.TrimRight(text, "\n"))
			if err != nil {
				return nil, fmt.Errorf("failed to parse message %q variant %d: %w", key, i, err)
			}
			s.variants[key] = append(s.variants[key], tpl)
		}
	}
	return s, nil
}

// Has reports whether the catalogue defines key.
func (s *Set) Has(key string) bool {
	_, ok := s.variants[key]
	return ok
}

// Render executes one randomly chosen variant of key.
func (s *Set) Render(key string, data Data) (string, error) {
	variants, ok := s.variants[key]
	if !ok {
		return "", fmt.Errorf("unknown message %q", key)
	}
	if data.Business == "" {
		data.Business = s.business
	}

	tpl := variants[s.pick(len(variants))]
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render message %q: %w", key, err)
	}
	return b.String(), nil
}
