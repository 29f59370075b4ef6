package delivery

import (
	"bytes"
	_ "embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultCatalogue []byte

type templateSource struct {
	Subject string `yaml:"subject"`
	HTML    string `yaml:"html"`
}

type catalogueFile struct {
	DefaultLocale string                                           `yaml:"defaultLocale"`
	Templates     map[NotificationType]map[string]templateSource `yaml:"templates"`
}

type compiled struct {
	subject *texttemplate.Template
	html    *htmltemplate.Template
}

type localized struct {
	matcher language.Matcher
	tags    []language.Tag
	byTag   []compiled
}

// TemplateData is the data passed to every template.
type TemplateData struct {
	Product   string
	Email     string
	URL       string
	ExpiresAt string
}

// Renderer produces subject and HTML for a notification type and locale.
type Renderer struct {
	product string
	byType  map[NotificationType]localized
}

// NewRenderer parses the embedded catalogue.
func NewRenderer(product string) (*Renderer, error) {
	return ParseRenderer(product, defaultCatalogue)
}

// ParseRenderer parses a YAML catalogue. The default locale of each type is
// listed first so the matcher falls back to it.
func ParseRenderer(product string, raw []byte) (*Renderer, error) {
	var cat catalogueFile
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("parse template catalogue: %w", err)
	}
	def, err := language.Parse(strings.TrimSpace(cat.DefaultLocale))
	if err != nil {
		def = language.English
	}

	r := &Renderer{product: strings.TrimSpace(product), byType: make(map[NotificationType]localized)}
	for typ, locales := range cat.Templates {
		var loc localized
		add := func(tag language.Tag, src templateSource) error {
			c, err := compile(string(typ)+"/"+tag.String(), src)
			if err != nil {
				return err
			}
			loc.tags = append(loc.tags, tag)
			loc.byTag = append(loc.byTag, c)
			return nil
		}

		if src, ok := locales[def.String()]; ok {
			if err := add(def, src); err != nil {
				return nil, err
			}
		}
		for name, src := range locales {
			tag, err := language.Parse(name)
			if err != nil {
				return nil, fmt.Errorf("template %s: locale %q: %w", typ, name, err)
			}
			if tag == def {
				continue
			}
			if err := add(tag, src); err != nil {
				return nil, err
			}
		}
		if len(loc.tags) == 0 {
			continue
		}
		loc.matcher = language.NewMatcher(loc.tags)
		r.byType[typ] = loc
	}
	return r, nil
}

func compile(name string, src templateSource) (compiled, error) {
	subj, err := texttemplate.New(name + ".subject").Option("missingkey=error").Parse(src.Subject)
	if err != nil {
		return compiled{}, fmt.Errorf("template %s subject: %w", name, err)
	}
	html, err := htmltemplate.New(name + ".html").Option("missingkey=error").Parse(src.HTML)
	if err != nil {
		return compiled{}, fmt.Errorf("template %s html: %w", name, err)
	}
	return compiled{subject: subj, html: html}, nil
}

// Render returns the subject and HTML body for typ in the closest supported locale.
func (r *Renderer) Render(typ NotificationType, locale string, data TemplateData) (string, string, error) {
	loc, ok := r.byType[typ]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrTemplateNotFound, typ)
	}
	if data.Product == "" {
		data.Product = r.product
	}

	idx := 0
	if locale = strings.TrimSpace(locale); locale != "" {
		if tags, _, err := language.ParseAcceptLanguage(locale); err == nil && len(tags) > 0 {
			_, idx, _ = loc.matcher.Match(tags...)
		}
	}
	c := loc.byTag[idx]

	var subj, body bytes.Buffer
	if err := c.subject.Execute(&subj, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", typ, err)
	}
	if err := c.html.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s html: %w", typ, err)
	}
	return strings.TrimSpace(subj.String()), body.String(), nil
}
