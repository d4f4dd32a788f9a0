package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/songbird-terrace/waivers/internal/signing"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage signing sessions",
	}
	cmd.AddCommand(newSessionCreateCommand(rootOpts))
	cmd.AddCommand(newSessionListCommand(rootOpts))
	cmd.AddCommand(newSessionDeleteCommand(rootOpts))
	return cmd
}

func newSessionCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var in domain.NewSession
	var baseURL string

	cmd := &cobra.Command{
		Use:          "create",
		Short:        "Issue a new signing link",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer repo.Close()

			session, err := signing.NewManager(repo, nil).CreateSession(cmd.Context(), in)
			if err != nil {
				return WrapExitError(ExitCommandError, "create session", err)
			}
			link := strings.TrimRight(baseURL, "/") + "/sign/" + session.ID
			return formatterFor(rootOpts, cmd).Success(map[string]interface{}{
				"session": session,
				"signUrl": link,
			}, link)
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "", "designated signer name")
	cmd.Flags().StringVar(&in.Email, "email", "", "designated signer email")
	cmd.Flags().StringVar(&in.Description, "description", "", "free-text label")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "public base URL used to build the signing link")
	return cmd
}

func newSessionListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List sessions, newest first",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer repo.Close()

			sessions, err := repo.ListSessions(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "list sessions", err)
			}

			var b strings.Builder
			tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSIGNED\tCREATED\tLINK")
			for _, s := range sessions {
				link := ""
				if s.Agreement != nil {
					link = s.Agreement.PDFURL
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
					s.ID, s.DisplayName(), s.IsSigned, s.CreatedAt.Format("2006-01-02 15:04"), link)
			}
			_ = tw.Flush()

			if sessions == nil {
				sessions = []*domain.SigningSession{}
			}
			return formatterFor(rootOpts, cmd).Success(sessions, strings.TrimRight(b.String(), "\n"))
		},
	}
}

func newSessionDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "delete <session-id>",
		Short:        "Delete a session and its signed agreement",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := signing.NewManager(repo, nil).DeleteSession(cmd.Context(), args[0]); err != nil {
				return WrapExitError(ExitCommandError, "delete session", err)
			}
			return formatterFor(rootOpts, cmd).Success(map[string]string{"deleted": args[0]}, "deleted "+args[0])
		},
	}
}
