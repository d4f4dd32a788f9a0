// Package render turns a signed agreement into a paginated PDF.
//
// Rendering is pure: the same record and Options always produce the same
// bytes. The document dates are pinned to the signing time and catalog
// output is sorted, so nothing depends on the wall clock or map order.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-pdf/fpdf"
	"github.com/songbird-terrace/waivers/internal/domain"
)

// Page geometry in millimetres (A4 portrait).
const (
	pageWidth     = 210.0
	pageHeight    = 297.0
	margin        = 20.0
	printable     = pageWidth - 2*margin
	pageBreakY    = pageHeight - 40
	continuationY = 20.0
	bodyLineH     = 5.0

	panelTop    = 35.0
	panelHeight = 45.0
	firstRowY   = 45.0
	rowStep     = 10.0
	labelInset  = 5.0
	valueInset  = 35.0
	secondCol   = 90.0

	termsHeadingY  = 90.0
	termsBodyStart = termsHeadingY + 8

	signatureLineY = 30.0
	signatureLineW = 80.0
	signatureBoxW  = 50.0
	signatureBoxH  = 25.0
)

const (
	// SignaturePlaceholder is printed where the signature image would go
	// when the stored image cannot be decoded.
	SignaturePlaceholder = "[Signature Error]"

	dateLayout = "1/2/2006 03:04 PM"
	fontFamily = "Helvetica"
)

// Options controls the fixed text and timezone of the document.
type Options struct {
	Title    string
	Caption  string
	Location *time.Location
	// Compress deflates page streams. Tests turn it off to grep content.
	Compress bool
}

// DefaultOptions returns the production layout settings.
func DefaultOptions() Options {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		loc = time.UTC
	}
	return Options{
		Title:    "Liability Release Waiver",
		Caption:  "Digitally signed via Songbird Terrace",
		Location: loc,
		Compress: true,
	}
}

// Document is a rendered PDF plus facts callers may want to log.
type Document struct {
	Data              []byte
	Pages             int
	SignatureEmbedded bool
	SignatureError    error
}

// Renderer renders signed agreements. It is safe for concurrent use.
type Renderer struct {
	opts Options
}

// New creates a Renderer. Zero-valued fields fall back to DefaultOptions.
func New(opts Options) *Renderer {
	def := DefaultOptions()
	if opts.Title == "" {
		opts.Title = def.Title
	}
	if opts.Caption == "" {
		opts.Caption = def.Caption
	}
	if opts.Location == nil {
		opts.Location = def.Location
	}
	return &Renderer{opts: opts}
}

// Render returns the PDF bytes for a signed agreement.
func (r *Renderer) Render(a *domain.SignedAgreement) ([]byte, error) {
	doc, err := r.RenderDocument(a)
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// RenderDocument renders the agreement and reports page count and whether
// the signature image could be embedded.
func (r *Renderer) RenderDocument(a *domain.SignedAgreement) (*Document, error) {
	if a == nil {
		return nil, fmt.Errorf("render: nil agreement")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.opts.Compress)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(a.SignedAt)
	pdf.SetModificationDate(a.SignedAt)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetCellMargin(0)
	pdf.SetTitle(r.opts.Title, true)
	pdf.SetSubject("Reference "+referenceID(a.SessionID), true)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	p := &page{pdf: pdf, tr: tr}

	pdf.AddPage()
	r.header(p, a)
	r.details(p, a)
	r.terms(p, a)
	sigErr := r.signaturePage(p, a)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return &Document{
		Data:              buf.Bytes(),
		Pages:             pdf.PageNo(),
		SignatureEmbedded: sigErr == nil,
		SignatureError:    sigErr,
	}, nil
}

func (r *Renderer) header(p *page, a *domain.SignedAgreement) {
	p.font("B", 20)
	p.color(0)
	p.centered(r.opts.Title, 20)

	p.font("", 9)
	p.color(100)
	p.centered("Reference: "+referenceID(a.SessionID), 26)
}

func (r *Renderer) details(p *page, a *domain.SignedAgreement) {
	p.pdf.SetDrawColor(200, 200, 200)
	p.pdf.SetFillColor(250, 250, 250)
	p.pdf.SetLineWidth(0.2)
	p.pdf.Rect(margin, panelTop, printable, panelHeight, "FD")
	p.color(0)

	y := firstRowY
	nameWidth := secondCol - valueInset - 2
	wideWidth := printable - valueInset - labelInset
	p.field("Signer:", a.CustomerName, 0, y, nameWidth)
	p.field("Date:", FormatSignedAt(a.SignedAt, r.opts.Location), secondCol, y, printable-secondCol-valueInset-labelInset)

	y += rowStep
	p.field("Email:", a.CustomerEmail, 0, y, wideWidth)
	y += rowStep
	p.field("Phone:", a.CustomerPhone, 0, y, wideWidth)
	y += rowStep
	p.field("Address:", a.CustomerAddress, 0, y, wideWidth)
}

func (r *Renderer) terms(p *page, a *domain.SignedAgreement) {
	p.font("B", 14)
	p.color(0)
	p.text("Agreement Terms", margin, termsHeadingY)

	p.font("", 9)
	text := strings.ReplaceAll(a.AgreementSnapshot, "\r\n", "\n")
	lines := p.pdf.SplitLines([]byte(p.tr(text)), printable)

	y := termsBodyStart
	for _, line := range lines {
		if y > pageBreakY {
			p.pdf.AddPage()
			y = continuationY
		}
		p.pdf.Text(margin, y, string(line))
		y += bodyLineH
	}
}

// signaturePage always starts a new page so the signature never shares a
// page with agreement text.
func (r *Renderer) signaturePage(p *page, a *domain.SignedAgreement) error {
	p.pdf.AddPage()
	y := signatureLineY

	p.pdf.SetDrawColor(0, 0, 0)
	p.pdf.SetLineWidth(0.5)
	p.pdf.Line(margin, y, margin+signatureLineW, y)

	sigErr := p.signature(a.SignatureData, margin, y-signatureBoxH, signatureBoxW, signatureBoxH)
	if sigErr != nil {
		p.font("", 9)
		p.color(0)
		p.pdf.Text(margin, y-5, SignaturePlaceholder)
	}

	y += 5
	p.font("B", 10)
	p.color(0)
	p.text("Signed by "+a.CustomerName, margin, y)

	p.font("", 8)
	p.color(100)
	p.text(r.opts.Caption, margin, y+5)
	return sigErr
}

// FormatSignedAt renders the signing time the way it appears on the
// document, e.g. "3/2/2025 10:30 AM".
func FormatSignedAt(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateLayout)
}

func referenceID(sessionID string) string {
	runes := []rune(sessionID)
	if len(runes) > 8 {
		runes = runes[:8]
	}
	return strings.ToUpper(string(runes))
}

// page bundles the fpdf handle with the cp1252 translator so every string
// written goes through the same encoding.
type page struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (p *page) font(style string, size float64) {
	p.pdf.SetFont(fontFamily, style, size)
}

func (p *page) color(gray int) {
	p.pdf.SetTextColor(gray, gray, gray)
}

func (p *page) text(s string, x, y float64) {
	p.pdf.Text(x, y, p.tr(s))
}

func (p *page) centered(s string, y float64) {
	encoded := p.tr(s)
	w := p.pdf.GetStringWidth(encoded)
	p.pdf.Text((pageWidth-w)/2, y, encoded)
}

func (p *page) field(label, value string, xOffset, y, maxWidth float64) {
	p.font("B", 10)
	p.text(label, margin+labelInset+xOffset, y)

	p.font("", 10)
	if strings.TrimSpace(value) == "" {
		value = "N/A"
	}
	p.pdf.Text(margin+valueInset+xOffset, y, p.fit(p.tr(value), maxWidth))
}

// fit shortens an encoded string with an ellipsis until it fits maxWidth.
func (p *page) fit(s string, maxWidth float64) string {
	if p.pdf.GetStringWidth(s) <= maxWidth {
		return s
	}
	const ellipsis = "..."
	b := []byte(s)
	for len(b) > 0 && p.pdf.GetStringWidth(string(b)+ellipsis) > maxWidth {
		b = b[:len(b)-1]
	}
	return string(b) + ellipsis
}
