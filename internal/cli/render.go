package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/songbird-terrace/waivers/internal/backup"
	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/songbird-terrace/waivers/internal/render"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	Output   string
	Sample   bool
	Timezone string
}

// NewRenderCommand creates the render command. It writes the PDF for a
// signed session, or for a built-in sample agreement with --sample.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{}

	cmd := &cobra.Command{
		Use:   "render [session-id]",
		Short: "Render the PDF for a signed session",
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Sample {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args, rootOpts, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default: generated filename)")
	cmd.Flags().BoolVar(&opts.Sample, "sample", false, "render a sample agreement without touching the database")
	cmd.Flags().StringVar(&opts.Timezone, "timezone", "America/Los_Angeles", "IANA timezone for the signed date")
	return cmd
}

func runRender(cmd *cobra.Command, args []string, rootOpts *RootOptions, opts *RenderOptions) error {
	out := formatterFor(rootOpts, cmd)

	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid timezone", err)
	}
	ropts := render.DefaultOptions()
	ropts.Location = loc
	renderer := render.New(ropts)

	var agreement *domain.SignedAgreement
	if opts.Sample {
		agreement = SampleAgreement()
	} else {
		repo, err := openStore(cmd.Context(), rootOpts)
		if err != nil {
			return err
		}
		defer repo.Close()

		agreement, err = repo.GetSignedAgreement(cmd.Context(), args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "load agreement", err)
		}
		if agreement == nil {
			return WrapExitError(ExitFailure, "session not found or not signed", domain.ErrNotYetSigned)
		}
	}

	doc, err := renderer.RenderDocument(agreement)
	if err != nil {
		return WrapExitError(ExitFailure, "render", err)
	}
	if doc.SignatureError != nil {
		out.VerboseLog("signature image not embedded: %v", doc.SignatureError)
	}

	path := opts.Output
	if path == "" {
		path = backup.SafeFilename(agreement.CustomerName, agreement.SessionID)
	}
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "write output", err)
	}

	return out.Success(map[string]interface{}{
		"path":              path,
		"pages":             doc.Pages,
		"bytes":             len(doc.Data),
		"signatureEmbedded": doc.SignatureEmbedded,
	}, fmt.Sprintf("wrote %s (%d pages)", path, doc.Pages))
}

// sampleSignature is a 1x1 transparent PNG.
const sampleSignature = "data:image/png;base64," +
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// SampleAgreement returns a fixed agreement for previewing the layout.
func SampleAgreement() *domain.SignedAgreement {
	return &domain.SignedAgreement{
		ID:              "00000000-0000-0000-0000-000000000001",
		SessionID:       "0000sample-0000-0000-0000-000000000000",
		CustomerName:    "Sample Signer",
		CustomerAddress: "100 Terrace Way, Ojai, CA 93023",
		CustomerEmail:   "signer@example.com",
		CustomerPhone:   "(805) 555-0100",
		SignatureData:   sampleSignature,
		AgreementSnapshot: "RELEASE OF LIABILITY\n\n" +
			"I acknowledge that participation in activities at Songbird Terrace involves inherent risks.\n\n" +
			"I voluntarily assume all such risks and release Songbird Terrace, its owners and staff from any claims arising from my participation.\n\n" +
			"I confirm that I have read this agreement and sign it of my own free will.",
		SignedAt: time.Date(2025, 1, 15, 17, 0, 0, 0, time.UTC),
	}
}
