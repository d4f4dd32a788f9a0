package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/songbird-terrace/waivers/internal/app"
	"github.com/songbird-terrace/waivers/internal/backup"
	"github.com/songbird-terrace/waivers/internal/config"
	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/songbird-terrace/waivers/internal/store"
)

// NewBackupCommand creates the backup command group.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Re-run document backups",
	}
	cmd.AddCommand(newBackupRunCommand(rootOpts))
	cmd.AddCommand(newBackupSweepCommand(rootOpts))
	return cmd
}

// loadComponents reads the environment configuration, pointing it at the
// database chosen on the command line.
func loadComponents(cmd *cobra.Command, rootOpts *RootOptions) (store.Repository, *app.Components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	cfg.DatabaseURL = rootOpts.DatabaseURL

	repo, err := openStore(cmd.Context(), rootOpts)
	if err != nil {
		return nil, nil, err
	}
	components, err := app.Build(cmd.Context(), cfg, repo)
	if err != nil {
		_ = repo.Close()
		return nil, nil, WrapExitError(ExitCommandError, "build components", err)
	}
	return repo, components, nil
}

type channelOutcome struct {
	Channel    string `json:"channel"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

func newBackupRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "run <session-id>",
		Short:        "Deliver a signed agreement to every configured channel",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, components, err := loadComponents(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer repo.Close()
			defer components.Close()

			agreement, err := repo.GetSignedAgreement(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "load agreement", err)
			}
			if agreement == nil {
				return WrapExitError(ExitFailure, "session not found or not signed", domain.ErrNotYetSigned)
			}
			if len(components.Pipeline.Channels()) == 0 {
				return WrapExitError(ExitCommandError, "no backup channels configured", nil)
			}

			report := components.Pipeline.Backup(cmd.Context(), agreement)
			if err := formatterFor(rootOpts, cmd).Success(reportData(report), reportText(report)); err != nil {
				return err
			}
			if err := report.Err(); err != nil {
				return WrapExitError(ExitFailure, "backup incomplete", err)
			}
			return nil
		},
	}
}

func newBackupSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:          "sweep",
		Short:        "Retry drive uploads for agreements that never got a link",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, components, err := loadComponents(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer repo.Close()
			defer components.Close()

			if len(components.RetryPipeline.Channels()) == 0 {
				return WrapExitError(ExitCommandError, "drive backup is not configured", nil)
			}

			sweeper := backup.NewSweeper(repo, components.RetryPipeline, backup.DefaultSweepInterval, grace)
			n, err := sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "sweep", err)
			}
			return formatterFor(rootOpts, cmd).Success(map[string]int{"retried": n},
				fmt.Sprintf("retried %d agreement(s)", n))
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", backup.DefaultSweepGrace, "only retry agreements signed longer ago than this")
	return cmd
}

func reportData(r *backup.Report) map[string]interface{} {
	outcomes := make([]channelOutcome, 0, len(r.Results))
	for _, res := range r.Results {
		o := channelOutcome{Channel: res.Channel, OK: res.Err == nil, DurationMS: res.Duration.Milliseconds()}
		if res.Err != nil {
			o.Error = res.Err.Error()
		}
		outcomes = append(outcomes, o)
	}
	data := map[string]interface{}{
		"agreementId": r.AgreementID,
		"filename":    r.Filename,
		"channels":    outcomes,
	}
	if r.RenderErr != nil {
		data["renderError"] = r.RenderErr.Error()
	}
	return data
}

func reportText(r *backup.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", r.Filename, r.AgreementID)
	if r.RenderErr != nil {
		fmt.Fprintf(&b, "\n  render: %v", r.RenderErr)
	}
	for _, res := range r.Results {
		status := "ok"
		if res.Err != nil {
			status = res.Err.Error()
		}
		fmt.Fprintf(&b, "\n  %-6s %s", res.Channel, status)
	}
	return b.String()
}
