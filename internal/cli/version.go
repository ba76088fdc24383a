package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// BuildInfo identifies the running binary. It is set from linker flags in main.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

//nolint:gochecknoglobals // set once from main before Execute
var buildInfo BuildInfo

// SetBuildInfo records the build metadata reported by the version command.
func SetBuildInfo(info BuildInfo) {
	buildInfo = info
}

// String formats the build metadata, filling blanks with dev/unknown.
func (b BuildInfo) String() string {
	v, commit, date := b.Version, b.Commit, b.Date
	if v == "" {
		v = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", v, commit, date)
}

// RenderText prints the version line.
func (b BuildInfo) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "keyward %s\n", b)
	return err
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the keyward version",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return formatter.Print(buildInfo)
	},
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(versionCmd)
}
