package tools

import (
	"fmt"
	"runtime"
)

func installHints(spec ToolSpec, installRoot string) []string {
	hints := []string{
		fmt.Sprintf("Download the %s release manually from https://github.com/%s/releases/latest", spec.Name, spec.Repo),
	}
	if spec.AssetPattern != "" {
		hints = append(hints, fmt.Sprintf("Pick the asset named like %q and unpack it into %s", spec.AssetPattern, installRoot))
	} else {
		hints = append(hints, fmt.Sprintf("No %s build is published for %s; build it from source and place it in %s", spec.Name, runtime.GOOS, installRoot))
	}
	if len(spec.Executables) > 0 {
		hints = append(hints, fmt.Sprintf("The executable must be named %s", spec.Executables[0]))
	}
	hints = append(hints, "Set DOTALIAS_GITHUB_TOKEN if the GitHub API is rate limiting you")
	return hints
}
