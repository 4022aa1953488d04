package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"dotalias/internal/config"
	"dotalias/internal/locate"
	"dotalias/internal/logx"
	"dotalias/internal/paths"
)

var (
	configPath string
	dotaPath   string
)

// session holds what every command that touches the application directory
// needs: resolved paths and an open log file.
type session struct {
	paths  paths.AppPaths
	logger *log.Logger
	closer io.Closer
}

func openSession(cmd *cobra.Command, command string) (*session, error) {
	app, err := paths.Resolve(homeDir)
	if err != nil {
		return nil, err
	}
	if err := app.Ensure(); err != nil {
		return nil, err
	}

	var opts logx.Options
	if verbose {
		opts.Tee = cmd.ErrOrStderr()
	}
	logger, closer, err := logx.New(app.LogsDir, command, opts)
	if err != nil {
		return nil, err
	}
	logger.Printf("dotalias %s: home=%s", command, app.Home)
	return &session{paths: app, logger: logger, closer: closer}, nil
}

func (s *session) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func addConfigFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", config.DefaultFileName, "Alias file (YAML, JSON or JSONC)")
}

func addLocateFlags(fs *pflag.FlagSet) {
	fs.StringVar(&dotaPath, "dota-path", "", "Dota 2 install root (the \"dota 2 beta\" folder); overrides "+locate.EnvOverride)
}

// resolveConfigPath makes a relative --config absolute against the working
// directory so log lines and errors name the file unambiguously.
func resolveConfigPath(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = config.DefaultFileName
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return abs, nil
}

// loadAliases reads the alias file, printing every validation issue before
// returning the error.
func loadAliases(cmd *cobra.Command, path string) (config.AliasMap, error) {
	exists, err := paths.FileExists(path)
	if err != nil {
		return config.AliasMap{}, err
	}
	if !exists {
		return config.AliasMap{}, fmt.Errorf("alias file %s not found (create one with \"dotalias init\")", path)
	}
	m, err := config.Load(path)
	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) && !outputJSON {
			printIssues(cmd.ErrOrStderr(), path, verrs.Issues())
			return m, fmt.Errorf("alias file %s has %d problem(s)", path, len(verrs))
		}
		return m, err
	}
	return m, nil
}

func printIssues(w io.Writer, path string, issues []config.ValidationError) {
	fmt.Fprintf(w, "%s:\n", path)
	for _, issue := range issues {
		fmt.Fprintf(w, "  %s\n", issue.Error())
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
