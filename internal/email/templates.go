package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

// EmailTemplate defines the interface for email templates
type EmailTemplate interface {
	Subject() string
	TemplateName() string
}

// Row is one label/value line in a message table.
type Row struct {
	Label string
	Value string
}

// ConfirmationRequestEmail asks a supplying business to confirm or decline
// an order or booking through single-use links.
type ConfirmationRequestEmail struct {
	Kind         string // "order" or "booking"
	Reference    string
	BusinessName string
	Rows         []Row
	Total        string
	ConfirmURL   string
	DeclineURL   string
	Lines        []ConfirmLine // per-item links when each line has its own token
	ExpiresAt    time.Time
}

// ConfirmLine is one independently confirmable line.
type ConfirmLine struct {
	Label      string
	Value      string
	ConfirmURL string
	DeclineURL string
}

func (e ConfirmationRequestEmail) Subject() string {
	return fmt.Sprintf("Action required: confirm %s %s", e.Kind, e.Reference)
}

func (e ConfirmationRequestEmail) TemplateName() string {
	return "confirmation_request.html"
}

// SummaryEmail is the general-purpose customer and business update:
// acknowledgements, status changes, invoices and payment receipts.
type SummaryEmail struct {
	SubjectLine string
	Heading     string
	Intro       string
	Rows        []Row
	TotalLabel  string
	Total       string
	ActionLabel string
	ActionURL   string
	Footer      string
}

func (e SummaryEmail) Subject() string {
	return e.SubjectLine
}

func (e SummaryEmail) TemplateName() string {
	return "summary.html"
}

// OpsAlertEmail notifies operators of a case that needs manual review.
type OpsAlertEmail struct {
	Reference string
	Reason    string
	Rows      []Row
}

func (e OpsAlertEmail) Subject() string {
	return "[ops] " + e.Reason + " - " + e.Reference
}

func (e OpsAlertEmail) TemplateName() string {
	return "ops_alert.html"
}

// Renderer executes the embedded templates inside the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format("Jan 2, 2006 15:04 MST") },
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	layout, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email layout: %w", err)
	}

	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, file := range files {
		name := path.Base(file)
		if name == "layout.html" {
			continue
		}
		page, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := page.ParseFS(templateFS, file); err != nil {
			return nil, fmt.Errorf("failed to parse email template %s: %w", name, err)
		}
		r.pages[name] = page
	}
	return r, nil
}

// MustRenderer is NewRenderer for wiring code; the templates are embedded
// so a parse failure is a build defect.
func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render returns the HTML and plain text bodies for data.
func (r *Renderer) Render(data EmailTemplate) (string, string, error) {
	page, ok := r.pages[data.TemplateName()]
	if !ok {
		return "", "", ErrTemplateNotFound(data.TemplateName())
	}

	var buf bytes.Buffer
	if err := page.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return "", "", errRender(data.TemplateName(), err)
	}
	html := buf.String()
	return html, generatePlainText(html), nil
}

// FormatMoney renders minor units as "USD 88.00".
func FormatMoney(cents int64, currency string) string {
	code := strings.ToUpper(currency)
	exp := int32(2)
	switch code {
	case "JPY", "KRW", "VND", "CLP", "ISK":
		exp = 0
	}
	return code + " " + decimal.New(cents, -exp).StringFixed(exp)
}
