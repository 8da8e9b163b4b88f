package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"salesops-backend/internal/shared/config"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect agent profiles",
}

var profilesCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate an agent profile YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesCheck,
}

func init() {
	profilesCmd.AddCommand(profilesCheckCmd)
}

func runProfilesCheck(cmd *cobra.Command, args []string) error {
	profiles, err := config.LoadProfiles(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range profiles.EntityTypes() {
		p := profiles[name]
		fmt.Fprintf(out, "%s: max_iterations=%d tools=%s", name, p.MaxIterations, strings.Join(p.Tools, ","))
		if p.Timeout > 0 {
			fmt.Fprintf(out, " timeout=%s", p.Timeout)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, "OK")
	return nil
}
