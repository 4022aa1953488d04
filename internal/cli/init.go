package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dotalias/internal/config"
	"dotalias/internal/paths"
)

var initForce bool

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [file|directory]",
		Short: "Write a sample alias file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}

	cmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing alias file")
	return cmd
}

// resolveInitPath maps the optional argument to the file to write. A
// directory receives the default file name.
func resolveInitPath(args []string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	if len(args) == 0 || args[0] == "." {
		return filepath.Join(cwd, config.DefaultFileName), nil
	}

	target := args[0]
	if !filepath.IsAbs(target) {
		target = filepath.Join(cwd, target)
	}
	isDir, err := paths.DirExists(target)
	if err != nil {
		return "", err
	}
	if isDir {
		return filepath.Join(target, config.DefaultFileName), nil
	}
	return target, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	target, err := resolveInitPath(args)
	if err != nil {
		return err
	}

	if err := config.WriteSample(target, initForce); err != nil {
		return err
	}

	if outputJSON {
		return writeJSON(cmd, map[string]string{"created": target})
	}
	cmd.Printf("Created %s\n", target)
	cmd.Printf("Edit \"path\" and the hero lists, then run: dotalias run --config %s\n", target)
	return nil
}
