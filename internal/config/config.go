package config

import (
	"strings"
)

// HeroPrefix is the section key prefix used for heroes in npc_heroes.txt.
const HeroPrefix = "npc_dota_hero_"

// PathKey is the reserved top-level key naming the target language folder.
const PathKey = "path"

// AliasMap is the validated alias configuration for a run. Heroes keep the
// order in which they were declared.
type AliasMap struct {
	Path   string        `json:"path"`
	Heroes []HeroAliases `json:"heroes"`
}

// HeroAliases lists the aliases declared for a single hero.
type HeroAliases struct {
	// Hero is the identifier as written by the user.
	Hero string `json:"hero"`
	// Key is the normalised identifier used for matching sections.
	Key     string   `json:"key"`
	Aliases []string `json:"aliases"`
	// Line is the 1-based source line of the declaration when known.
	Line int `json:"line,omitempty"`
}

// NormalizeHero folds a hero identifier into the form used for matching:
// lower case, without the npc_dota_hero_ prefix, with spaces and hyphens
// turned into underscores.
func NormalizeHero(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, HeroPrefix)
	key = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-':
			return '_'
		}
		return r
	}, key)
	return key
}

// AliasCount returns the total number of declared aliases.
func (m AliasMap) AliasCount() int {
	n := 0
	for _, h := range m.Heroes {
		n += len(h.Aliases)
	}
	return n
}
