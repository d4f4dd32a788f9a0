// Package backup delivers a copy of every signed waiver to independent
// channels (operator email, cloud drive) after the signature commits.
//
// Delivery is best effort. A failing channel is logged and never stops the
// others, and nothing here reports back to the signer.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/songbird-terrace/waivers/internal/render"
	"golang.org/x/sync/errgroup"
)

// Document is the rendered artifact handed to each channel.
type Document struct {
	Agreement *domain.SignedAgreement
	Filename  string
	Data      []byte
}

// Channel delivers a rendered document somewhere.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, doc *Document) error
}

// Renderer produces the PDF for an agreement.
type Renderer interface {
	RenderDocument(a *domain.SignedAgreement) (*render.Document, error)
}

// ChannelResult is the outcome of one channel.
type ChannelResult struct {
	Channel  string
	Err      error
	Duration time.Duration
}

// Report summarizes a backup run.
type Report struct {
	AgreementID string
	Filename    string
	RenderErr   error
	Results     []ChannelResult
}

// Err joins every failure in the run, or returns nil if all succeeded.
func (r *Report) Err() error {
	errs := []error{r.RenderErr}
	for _, res := range r.Results {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// Pipeline renders an agreement once and fans it out to every channel.
type Pipeline struct {
	renderer Renderer
	channels []Channel
	logger   *slog.Logger
}

// NewPipeline creates a pipeline over the given channels.
func NewPipeline(renderer Renderer, channels ...Channel) *Pipeline {
	return &Pipeline{
		renderer: renderer,
		channels: channels,
		logger:   slog.With("component", "backup"),
	}
}

// Channels returns the names of the configured channels.
func (p *Pipeline) Channels() []string {
	names := make([]string, len(p.channels))
	for i, c := range p.channels {
		names[i] = c.Name()
	}
	return names
}

// Backup renders the agreement and runs all channels concurrently.
func (p *Pipeline) Backup(ctx context.Context, a *domain.SignedAgreement) *Report {
	report := &Report{
		AgreementID: a.ID,
		Filename:    SafeFilename(a.CustomerName, a.SessionID),
	}
	logger := p.logger.With("agreement_id", a.ID, "session_id", a.SessionID)

	if len(p.channels) == 0 {
		logger.Warn("No backup channels configured")
		return report
	}

	rendered, err := p.renderer.RenderDocument(a)
	if err != nil {
		report.RenderErr = fmt.Errorf("render: %w", err)
		logger.Error("Backup render failed", "error", err)
		return report
	}
	if rendered.SignatureError != nil {
		logger.Warn("Signature image could not be embedded", "error", rendered.SignatureError)
	}

	doc := &Document{Agreement: a, Filename: report.Filename, Data: rendered.Data}
	report.Results = make([]ChannelResult, len(p.channels))

	// Each goroutine records its own outcome and returns nil so one
	// failure never cancels the others.
	var g errgroup.Group
	for i, ch := range p.channels {
		i, ch := i, ch
		g.Go(func() error {
			start := time.Now()
			err := ch.Deliver(ctx, doc)
			if err != nil {
				err = fmt.Errorf("%w: %s: %w", domain.ErrBackupChannelFailed, ch.Name(), err)
			}
			report.Results[i] = ChannelResult{Channel: ch.Name(), Err: err, Duration: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range report.Results {
		if res.Err != nil {
			logger.Error("Backup channel failed",
				"channel", res.Channel,
				"duration", res.Duration,
				"error", res.Err)
			continue
		}
		logger.Info("Backup channel delivered",
			"channel", res.Channel,
			"duration", res.Duration,
			"filename", report.Filename,
			"bytes", len(rendered.Data))
	}
	return report
}
