package cmd

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version and CommitSHA can be set via:
// -ldflags="-X 'github.com/nexasecurity/nexasec/cmd.Version=$TAG' -X 'github.com/nexasecurity/nexasec/cmd.CommitSHA=$SHA'"
var (
	Version   string
	CommitSHA string
)

func init() {
	if Version != "" && CommitSHA != "" {
		return
	}
	i, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "" {
		Version = i.Main.Version
	}
	if CommitSHA == "" {
		for _, s := range i.Settings {
			if s.Key == "vcs.revision" {
				CommitSHA = s.Value
			}
		}
	}
}

type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func versionString() string {
	b, err := json.Marshal(versionInfo{Version: Version, Commit: CommitSHA})
	if err != nil {
		return Version
	}
	return string(b)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and commit of this build",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}
