package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ValidationError captures a single problem in an alias file.
type ValidationError struct {
	Line    int    `json:"line,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	parts := make([]string, 0, 3)
	if e.Line > 0 {
		parts = append(parts, "line "+strconv.Itoa(e.Line))
	}
	if e.Field != "" {
		parts = append(parts, e.Field)
	}
	if len(parts) == 0 {
		return e.Message
	}
	return strings.Join(parts, " ") + ": " + e.Message
}

// ValidationErrors aggregates multiple validation issues.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(errs))
	for i, err := range errs {
		messages[i] = err.Error()
	}
	return "invalid alias file: " + strings.Join(messages, "; ")
}

// Issues returns a copy of the underlying validation errors.
func (errs ValidationErrors) Issues() []ValidationError {
	return append([]ValidationError(nil), errs...)
}

func build(path string, entries []rawEntry) (AliasMap, error) {
	var issues ValidationErrors

	path = strings.TrimSpace(path)
	if err := validateTargetPath(path); err != nil {
		issues = append(issues, ValidationError{Field: PathKey, Message: err.Error()})
	}
	if len(entries) == 0 {
		issues = append(issues, ValidationError{Message: "no heroes declared"})
	}

	m := AliasMap{Path: filepath.ToSlash(filepath.Clean(filepath.FromSlash(path)))}
	seen := make(map[string]string, len(entries))
	for _, e := range entries {
		key := NormalizeHero(e.hero)
		if key == "" {
			issues = append(issues, ValidationError{Line: e.line, Field: e.hero, Message: "hero identifier is empty"})
			continue
		}
		if prev, dup := seen[key]; dup {
			issues = append(issues, ValidationError{
				Line:    e.line,
				Field:   e.hero,
				Message: fmt.Sprintf("refers to the same hero as %q", prev),
			})
			continue
		}
		seen[key] = e.hero

		aliases := make([]string, 0, len(e.aliases))
		for i, a := range e.aliases {
			alias := strings.TrimSpace(a)
			switch {
			case alias == "":
				issues = append(issues, ValidationError{Line: e.line, Field: fmt.Sprintf("%s.%d", e.hero, i), Message: "alias is empty"})
				continue
			case !ValidAlias(alias):
				issues = append(issues, ValidationError{Line: e.line, Field: fmt.Sprintf("%s.%d", e.hero, i), Message: fmt.Sprintf("alias %q contains a quote, backslash, semicolon or line break", alias)})
				continue
			}
			aliases = append(aliases, alias)
		}
		m.Heroes = append(m.Heroes, HeroAliases{Hero: e.hero, Key: key, Aliases: aliases, Line: e.line})
	}

	if len(issues) > 0 {
		return AliasMap{}, issues
	}
	return m, nil
}

func validateTargetPath(path string) error {
	if path == "" {
		return fmt.Errorf("target path is required")
	}
	native := filepath.FromSlash(path)
	if filepath.IsAbs(native) || !filepath.IsLocal(native) {
		return fmt.Errorf("target path %q must be relative to the game directory", path)
	}
	if filepath.Clean(native) == "." {
		return fmt.Errorf("target path %q does not name a folder", path)
	}
	return nil
}

// unsafeAliasChars cannot appear inside a quoted hero file value: quotes and
// backslashes end or escape the string, semicolons separate aliases.
const unsafeAliasChars = "\"\\;\r\n"

// ValidAlias reports whether alias can be written into a NameAliases value
// and read back unchanged.
func ValidAlias(alias string) bool {
	return alias != "" && !strings.ContainsAny(alias, unsafeAliasChars)
}
