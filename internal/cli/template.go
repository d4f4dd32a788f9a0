package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/songbird-terrace/waivers/internal/signing"
)

// NewTemplateCommand creates the template command group.
func NewTemplateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage the agreement template",
	}
	cmd.AddCommand(newTemplateSetCommand(rootOpts))
	cmd.AddCommand(newTemplateShowCommand(rootOpts))
	return cmd
}

func newTemplateSetCommand(rootOpts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:          "set <file>",
		Short:        "Save a new template version from a text file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read template file", err)
			}

			repo, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer repo.Close()

			tpl, err := signing.NewManager(repo, nil).SaveTemplate(cmd.Context(), name, string(content))
			if err != nil {
				return WrapExitError(ExitCommandError, "save template", err)
			}
			return formatterFor(rootOpts, cmd).Success(tpl,
				fmt.Sprintf("saved %q version %d", tpl.Name, tpl.Version))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "template name (default \"Standard Waiver\")")
	return cmd
}

func newTemplateShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "show",
		Short:        "Print the current template",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer repo.Close()

			tpl, err := repo.LatestTemplate(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "load template", err)
			}
			if tpl == nil {
				return WrapExitError(ExitFailure, "no template saved", nil)
			}
			return formatterFor(rootOpts, cmd).Success(tpl,
				fmt.Sprintf("# %s (version %d)\n%s", tpl.Name, tpl.Version, tpl.Content))
		},
	}
}
