package cli

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"dotalias/internal/locate"
	"dotalias/internal/paths"
	"dotalias/internal/pipeline"
)

func newLocateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Show where the Dota 2 installation was found",
		Args:  cobra.NoArgs,
		RunE:  runLocate,
	}

	addLocateFlags(cmd.Flags())
	return cmd
}

type locateResult struct {
	locate.InstallPath
	Archive      string `json:"archive"`
	ArchiveFound bool   `json:"archive_found"`
}

func runLocate(cmd *cobra.Command, _ []string) error {
	sess, err := openSession(cmd, "locate")
	if err != nil {
		return err
	}
	defer sess.Close()

	loc := &locate.Locator{Override: dotaPath, Logger: sess.logger}
	install, err := loc.Locate()
	if err != nil {
		var notFound *locate.InstallationNotFoundError
		if outputJSON && errors.As(err, &notFound) {
			if werr := writeJSON(cmd, map[string]any{"found": false, "attempts": notFound.Attempts}); werr != nil {
				return werr
			}
		}
		return err
	}

	result := locateResult{
		InstallPath: install,
		Archive:     filepath.Join(install.GameDir(), "dota", pipeline.SourceArchive),
	}
	if result.ArchiveFound, err = paths.FileExists(result.Archive); err != nil {
		return err
	}

	if outputJSON {
		return writeJSON(cmd, result)
	}

	cmd.Printf("Install: %s\n", install.Root)
	cmd.Printf("Found via: %s\n", install.Strategy)
	if result.ArchiveFound {
		cmd.Printf("Archive: %s\n", result.Archive)
	} else {
		cmd.Printf("Archive: %s (missing)\n", result.Archive)
	}
	if verbose && len(install.Attempts) > 0 {
		cmd.Println("Candidates:")
		for _, a := range install.Attempts {
			status := "found"
			if !a.Found {
				status = a.Reason
			}
			cmd.Printf("  [%s] %s: %s\n", a.Strategy, a.Path, status)
		}
	}
	return nil
}
