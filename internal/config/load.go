package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format identifies the syntax of an alias file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

//go:embed aliasmap.schema.json
var aliasSchema []byte

const schemaResource = "inmemory://aliasmap.schema.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResource, bytes.NewReader(aliasSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
})

// DetectFormat picks the decoder from the file extension. Unknown extensions
// are treated as YAML.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Load reads and validates the alias file at path.
func Load(path string) (AliasMap, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return AliasMap{}, fmt.Errorf("alias file %s not found: %w", path, err)
		}
		return AliasMap{}, fmt.Errorf("read alias file: %w", err)
	}
	m, err := Parse(contents, DetectFormat(path))
	if err != nil {
		return AliasMap{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes an alias document, validates it against the embedded schema
// and then applies the checks the schema cannot express.
func Parse(data []byte, format Format) (AliasMap, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return AliasMap{}, ValidationErrors{{Message: "alias file is empty"}}
	}

	var (
		generic any
		entries []rawEntry
		path    string
		err     error
	)
	switch format {
	case FormatJSON:
		data = jsonc.ToJSON(data)
		if err := json.Unmarshal(data, &generic); err != nil {
			return AliasMap{}, fmt.Errorf("decode json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return AliasMap{}, fmt.Errorf("decode yaml: %w", err)
		}
	}

	if err := validateSchema(generic); err != nil {
		return AliasMap{}, err
	}

	switch format {
	case FormatJSON:
		path, entries, err = orderedJSON(data)
	default:
		path, entries, err = orderedYAML(data)
	}
	if err != nil {
		return AliasMap{}, err
	}
	return build(path, entries)
}

type rawEntry struct {
	hero    string
	aliases []string
	line    int
}

func validateSchema(value any) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	// Round-trip through JSON so YAML-decoded values have JSON types.
	buf, err := json.Marshal(value)
	if err != nil {
		return ValidationErrors{{Message: fmt.Sprintf("document is not a string-keyed mapping: %v", err)}}
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return fmt.Errorf("normalize document: %w", err)
	}
	if err := schema.Validate(normalized); err != nil {
		return schemaIssues(err)
	}
	return nil
}

func schemaIssues(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("schema validation: %w", err)
	}
	var issues ValidationErrors
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, ValidationError{Field: fieldFromPointer(e.InstanceLocation), Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	if len(issues) == 0 {
		issues = append(issues, ValidationError{Message: ve.Message})
	}
	return issues
}

func fieldFromPointer(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	return strings.ReplaceAll(ptr, "/", ".")
}

func orderedYAML(data []byte) (string, []rawEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return "", nil, ValidationErrors{{Message: "alias file is empty"}}
	}
	root := resolveAlias(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return "", nil, ValidationErrors{{Line: root.Line, Message: "top level must be a mapping"}}
	}

	var (
		path    string
		entries []rawEntry
	)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		value := resolveAlias(root.Content[i+1])
		if key.Value == PathKey {
			path = value.Value
			continue
		}
		entry := rawEntry{hero: key.Value, line: key.Line}
		for _, item := range value.Content {
			entry.aliases = append(entry.aliases, resolveAlias(item).Value)
		}
		entries = append(entries, entry)
	}
	return path, entries, nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func orderedJSON(data []byte) (string, []rawEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return "", nil, fmt.Errorf("decode json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return "", nil, ValidationErrors{{Message: "top level must be an object"}}
	}

	var (
		path    string
		entries []rawEntry
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", nil, fmt.Errorf("decode json: %w", err)
		}
		key, _ := tok.(string)
		if key == PathKey {
			if err := dec.Decode(&path); err != nil {
				return "", nil, fmt.Errorf("decode %q: %w", PathKey, err)
			}
			continue
		}
		var aliases []string
		if err := dec.Decode(&aliases); err != nil {
			return "", nil, fmt.Errorf("decode aliases for %q: %w", key, err)
		}
		entries = append(entries, rawEntry{hero: key, aliases: aliases})
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return "", nil, fmt.Errorf("decode json: %w", err)
	}
	return path, entries, nil
}
