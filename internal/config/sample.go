package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFileName is the alias file looked up when --config is not given.
const DefaultFileName = "alias.yaml"

const sampleAliasFile = `# Folder under "<dota 2 beta>/game/" that receives the patched archive.
# Launch Dota 2 with "-language <folder suffix>" to load it, e.g. dota_lv
# with "-language lv".
path: dota_lv

# Hero identifiers match npc_heroes.txt sections with or without the
# npc_dota_hero_ prefix. Aliases are added in the order listed.
faceless_void:
  - jbl
  - jb
antimage:
  - am
`

// SampleAliasFile returns the commented example written by "dotalias init".
func SampleAliasFile() []byte {
	return []byte(sampleAliasFile)
}

// WriteSample writes the example alias file to path. Existing files are only
// replaced when force is set.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare directory: %w", err)
	}
	if err := os.WriteFile(path, SampleAliasFile(), 0o644); err != nil {
		return fmt.Errorf("write sample alias file: %w", err)
	}
	return nil
}
