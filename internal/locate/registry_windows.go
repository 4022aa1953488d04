//go:build windows

package locate

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows/registry"
)

type registryValue struct {
	root registry.Key
	path string
	name string
}

var steamRegistryValues = []registryValue{
	{registry.LOCAL_MACHINE, `SOFTWARE\WOW6432Node\Valve\Steam`, "InstallPath"},
	{registry.LOCAL_MACHINE, `SOFTWARE\Valve\Steam`, "InstallPath"},
	{registry.CURRENT_USER, `Software\Valve\Steam`, "SteamPath"},
}

func registryRoots() []string {
	var roots []string
	for _, v := range steamRegistryValues {
		k, err := registry.OpenKey(v.root, v.path, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		s, _, err := k.GetStringValue(v.name)
		k.Close()
		if err != nil || s == "" {
			continue
		}
		roots = append(roots, filepath.Clean(filepath.FromSlash(s)))
	}
	return roots
}

func wellKnownRoots() []string {
	var roots []string
	for _, env := range []string{"ProgramFiles(x86)", "ProgramFiles"} {
		if base := os.Getenv(env); base != "" {
			roots = append(roots, filepath.Join(base, "Steam"))
		}
	}
	return roots
}
