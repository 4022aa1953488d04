package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"dotalias/internal/config"
	"dotalias/internal/deploy"
	"dotalias/internal/locate"
	"dotalias/internal/paths"
	"dotalias/internal/pipeline"
	"dotalias/internal/tools"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check tools, alias file and game installation",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}

	addConfigFlag(cmd.Flags())
	addLocateFlags(cmd.Flags())
	return cmd
}

type healthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Summary string `json:"summary"`
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	sess, err := openSession(cmd, "doctor")
	if err != nil {
		return err
	}
	defer sess.Close()

	var checks []healthCheck

	prov := tools.NewProvisioner(sess.paths.ToolsDir, sess.paths.DebugDir, nil, sess.logger)
	statuses, err := prov.Detect(cmd.Context())
	checks = append(checks, checkTools(statuses, err))

	cfgPath, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}
	aliases, cfgErr := config.Load(cfgPath)
	checks = append(checks, checkConfig(cfgPath, aliases, cfgErr))

	loc := &locate.Locator{Override: dotaPath, Logger: sess.logger}
	install, locErr := loc.Locate()
	checks = append(checks, checkInstall(install, locErr))

	if locErr == nil && cfgErr == nil {
		checks = append(checks, checkTarget(install, aliases))
	}

	records, err := deploy.List(sess.paths.DeploymentsDir)
	checks = append(checks, checkDeployments(records, err))

	for _, c := range checks {
		sess.logger.Printf("doctor %s: %s %s", c.Name, c.Status, c.Summary)
	}
	return writeDoctorResult(cmd, sess.paths.Home, checks)
}

func checkTools(statuses []tools.Status, err error) healthCheck {
	if err != nil {
		return healthCheck{Name: "Tools", Status: "error", Summary: err.Error()}
	}

	var satisfied, total int
	var toolInfo []string
	var missing []string
	for _, st := range statuses {
		total++
		if st.Satisfied {
			satisfied++
			label := st.Tool
			if st.Version != "" {
				label += " " + st.Version
			}
			toolInfo = append(toolInfo, label)
		} else {
			missing = append(missing, st.Tool)
		}
	}

	if satisfied == total {
		return healthCheck{Name: "Tools", Status: "ok", Summary: joinComma(toolInfo)}
	}
	return healthCheck{
		Name:    "Tools",
		Status:  "warning",
		Summary: fmt.Sprintf("%d of %d tools ready; %s will be downloaded on the next run", satisfied, total, joinComma(missing)),
	}
}

func checkConfig(path string, m config.AliasMap, err error) healthCheck {
	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			return healthCheck{Name: "Config", Status: "error", Summary: fmt.Sprintf("%s: %d problem(s), run dotalias validate", filepath.Base(path), len(verrs))}
		}
		return healthCheck{Name: "Config", Status: "error", Summary: err.Error()}
	}
	return healthCheck{
		Name:    "Config",
		Status:  "ok",
		Summary: fmt.Sprintf("%d hero(es), %d alias(es) for game/%s", len(m.Heroes), m.AliasCount(), m.Path),
	}
}

func checkInstall(install locate.InstallPath, err error) healthCheck {
	if err != nil {
		var notFound *locate.InstallationNotFoundError
		if errors.As(err, &notFound) {
			return healthCheck{Name: "Install", Status: "error", Summary: fmt.Sprintf("not found after %d candidate(s); set %s or pass --dota-path", len(notFound.Attempts), locate.EnvOverride)}
		}
		return healthCheck{Name: "Install", Status: "error", Summary: err.Error()}
	}
	archive := filepath.Join(install.GameDir(), "dota", pipeline.SourceArchive)
	if ok, _ := paths.FileExists(archive); !ok {
		return healthCheck{Name: "Install", Status: "error", Summary: fmt.Sprintf("%s has no %s", install.Root, pipeline.SourceArchive)}
	}
	return healthCheck{Name: "Install", Status: "ok", Summary: fmt.Sprintf("%s (%s)", install.Root, install.Strategy)}
}

// checkTarget reports whether the language folder exists and already holds
// an archive that a run would back up.
func checkTarget(install locate.InstallPath, m config.AliasMap) healthCheck {
	target := filepath.Join(install.GameDir(), filepath.FromSlash(m.Path))
	ok, err := paths.DirExists(target)
	if err != nil {
		return healthCheck{Name: "Target", Status: "error", Summary: err.Error()}
	}
	if !ok {
		return healthCheck{Name: "Target", Status: "ok", Summary: target + " will be created"}
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return healthCheck{Name: "Target", Status: "error", Summary: err.Error()}
	}
	var existing []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), pipeline.OutputBase+"_") && strings.HasSuffix(e.Name(), ".vpk") {
			existing = append(existing, e.Name())
		}
	}
	if len(existing) > 0 {
		return healthCheck{Name: "Target", Status: "warning", Summary: fmt.Sprintf("%s holds %s; it will be backed up", target, joinComma(existing))}
	}
	return healthCheck{Name: "Target", Status: "ok", Summary: target}
}

func checkDeployments(records []deploy.Manifest, err error) healthCheck {
	if err != nil {
		return healthCheck{Name: "Deployments", Status: "error", Summary: err.Error()}
	}
	if len(records) == 0 {
		return healthCheck{Name: "Deployments", Status: "ok", Summary: "none recorded"}
	}
	latest := records[0]
	return healthCheck{
		Name:    "Deployments",
		Status:  "ok",
		Summary: fmt.Sprintf("%d recorded, latest %s into %s", len(records), shortID(latest.RunID), latest.TargetDir),
	}
}

func writeDoctorResult(cmd *cobra.Command, home string, checks []healthCheck) error {
	if outputJSON {
		return writeJSON(cmd, checks)
	}

	bold := lipgloss.NewStyle().Bold(true).Inline(true)
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Inline(true)
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Inline(true)
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Inline(true)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, bold.Render("DOTALIAS HEALTH:")+" "+home)

	for _, c := range checks {
		var statusStr string
		switch c.Status {
		case "ok":
			statusStr = green.Render("OK")
		case "warning":
			statusStr = yellow.Render("WARN")
		case "error":
			statusStr = red.Render("ERROR")
		}
		fmt.Fprintf(out, "  %-13s %s    %s\n", c.Name+":", statusStr, c.Summary)
	}

	return nil
}

func joinComma(items []string) string {
	return strings.Join(items, ", ")
}
