package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/go-pdf/fpdf"
)

const (
	signatureImageName = "signature"
	maxSignaturePixels = 4096 * 4096
)

var errEmptySignature = errors.New("signature data is empty")

// signature embeds the stored signature image into the box. On any decode
// problem it leaves the document untouched and returns the error.
func (p *page) signature(data string, x, y, w, h float64) error {
	img, err := NormalizeSignature(data)
	if err != nil {
		return err
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	p.pdf.RegisterImageOptionsReader(signatureImageName, opts, bytes.NewReader(img))
	if !p.pdf.Ok() {
		err := p.pdf.Error()
		p.pdf.ClearError()
		return fmt.Errorf("embed signature: %w", err)
	}
	p.pdf.ImageOptions(signatureImageName, x, y, w, h, false, opts, 0, "")
	return nil
}

// NormalizeSignature decodes a data URL or bare base64 image and re-encodes
// it as an 8-bit, non-interlaced RGBA PNG that fpdf can always embed.
func NormalizeSignature(data string) ([]byte, error) {
	payload := strings.TrimSpace(data)
	if payload == "" {
		return nil, errEmptySignature
	}
	if i := strings.Index(payload, "base64,"); i >= 0 {
		payload = payload[i+len("base64,"):]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("decode signature base64: %w", err)
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read signature header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSignaturePixels {
		return nil, fmt.Errorf("signature dimensions %dx%d out of range", cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode signature image: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode signature png: %w", err)
	}
	return buf.Bytes(), nil
}
