package export

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-distribution/internal/delivery"
	"github.com/odyssey-erp/odyssey-distribution/report"
)

//go:embed packing_list.html
var packingListHTML string

// Renderer converts HTML documents to PDF.
type Renderer interface {
	Render(ctx context.Context, doc report.Document) ([]byte, error)
}

// PackingList renders delivery notes as printable packing lists.
type PackingList struct {
	renderer  Renderer
	templates *template.Template
	now       func() time.Time
}

type packingListData struct {
	Note      delivery.DeliveryNote
	Total     string
	PrintedAt time.Time
}

// NewPackingList parses the packing list template.
func NewPackingList(renderer Renderer) (*PackingList, error) {
	numbers := message.NewPrinter(language.English)
	funcMap := template.FuncMap{
		"formatDate": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return ""
			}
			return t.Format("January 2, 2006")
		},
		"formatQty": func(qty float64) string {
			s := fmt.Sprintf("%.4f", qty)
			s = strings.TrimRight(s, "0")
			return strings.TrimRight(s, ".")
		},
		"money": func(v float64) string { return numbers.Sprintf("%.2f", v) },
		"lower": strings.ToLower,
	}
	tpl, err := template.New("packing_list").Funcs(funcMap).Parse(packingListHTML)
	if err != nil {
		return nil, fmt.Errorf("parse packing list template: %w", err)
	}
	return &PackingList{renderer: renderer, templates: tpl, now: time.Now}, nil
}

// HTML renders the packing list page for a note.
func (p *PackingList) HTML(note delivery.DeliveryNote) (string, error) {
	if p == nil || p.templates == nil {
		return "", errors.New("packing list not initialized")
	}
	buf := &bytes.Buffer{}
	total := message.NewPrinter(language.English).Sprintf("%.2f", note.Total().InexactFloat64())
	data := packingListData{Note: note, Total: total, PrintedAt: p.now()}
	if err := p.templates.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderNote produces the packing list PDF of a note.
func (p *PackingList) RenderNote(ctx context.Context, note delivery.DeliveryNote) ([]byte, error) {
	html, err := p.HTML(note)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	if p.renderer == nil {
		return nil, errors.New("pdf renderer not configured")
	}
	return p.renderer.Render(ctx, report.Document{
		Name:  "packing-list-" + strings.ToLower(note.DocNumber) + ".html",
		HTML:  html,
		Paper: report.Letter,
	})
}
