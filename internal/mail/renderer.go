package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// Globals are merged into every template's variables. Job variables win on conflict.
type Globals struct {
	CompanyName  string
	SupportEmail string
}

// Renderer resolves templates by name and produces the html and plain-text bodies.
type Renderer struct {
	html    *htmltemplate.Template
	text    *texttemplate.Template
	globals Globals
	now     func() time.Time
}

func NewRenderer(globals Globals) (*Renderer, error) {
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	return &Renderer{html: html, text: text, globals: globals, now: time.Now}, nil
}

// Render executes both variants of the named template. A name with no html file is a
// permanent failure; the text part is optional.
func (r *Renderer) Render(name string, vars map[string]interface{}) (htmlBody, textBody string, err error) {
	htmlTmpl := r.html.Lookup(name + ".html")
	if htmlTmpl == nil {
		return "", "", Permanent(fmt.Errorf("%w: %q", ErrUnknownTemplate, name))
	}

	data := map[string]interface{}{
		"currentYear":  r.now().Year(),
		"companyName":  r.globals.CompanyName,
		"supportEmail": r.globals.SupportEmail,
	}
	for k, v := range vars {
		data[k] = v
	}

	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s html: %w", name, err)
	}
	htmlBody = buf.String()

	if textTmpl := r.text.Lookup(name + ".txt"); textTmpl != nil {
		buf.Reset()
		if err := textTmpl.Execute(&buf, data); err != nil {
			return "", "", fmt.Errorf("render %s text: %w", name, err)
		}
		textBody = buf.String()
	}
	return htmlBody, textBody, nil
}
