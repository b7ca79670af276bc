package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/raaihank/onnx-embedder/internal/embeddings"
)

// VersionInfo contains build information for the version command
type VersionInfo struct {
	Version   string       `json:"version"`
	Commit    string       `json:"commit"`
	Date      string       `json:"date"`
	GoVersion string       `json:"go_version"`
	OS        string       `json:"os"`
	Arch      string       `json:"arch"`
	Families  []FamilyInfo `json:"families"`
}

// FamilyInfo describes one supported model family.
type FamilyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func supportedFamilies() []FamilyInfo {
	families := embeddings.Families()
	out := make([]FamilyInfo, len(families))
	for i, f := range families {
		out[i] = FamilyInfo{Name: string(f), Description: embeddings.GetServiceDescription(f)}
	}
	return out
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := VersionInfo{
			Version:   Version,
			Commit:    BuildCommit,
			Date:      BuildDate,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			Families:  supportedFamilies(),
		}

		if IsJSONOutput() {
			return printJSON(cmd.OutOrStdout(), info)
		}
		return printVersionText(cmd.OutOrStdout(), info)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printVersionText(w io.Writer, info VersionInfo) error {
	fmt.Fprintf(w, "embedder %s\n", info.Version)
	fmt.Fprintf(w, "  Commit:     %s\n", info.Commit)
	fmt.Fprintf(w, "  Built:      %s\n", info.Date)
	fmt.Fprintf(w, "  Go version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "  OS/Arch:    %s/%s\n", info.OS, info.Arch)
	fmt.Fprintln(w, "Families:")
	for _, f := range info.Families {
		fmt.Fprintf(w, "  %-8s %s\n", f.Name, f.Description)
	}
	return nil
}
