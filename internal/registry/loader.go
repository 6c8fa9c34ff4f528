// Package registry loads operation registries: the catalog of operations a
// tool exposes, each with an input parameter schema. Built-in registries are
// embedded in the binary; a directory on disk can add or override them.
package registry

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/conductor/pkg/schema"
)

//go:embed registries/*.json
var builtinFS embed.FS

// registrySchemaJSON is the JSON Schema every registry document must satisfy.
const registrySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://conductor.dev/schemas/registry.json",
  "type": "object",
  "required": ["tool_key", "operations"],
  "properties": {
    "tool_key": { "type": "string", "minLength": 1 },
    "version": { "type": "string" },
    "operations": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["op_id"],
        "properties": {
          "op_id": { "type": "string", "minLength": 1 },
          "title": { "type": "string" },
          "input_schema": { "type": "object" }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// Loader resolves tool keys to registries. Lookups hit the override
// directory first, then the embedded built-ins. Loaded registries are
// cached; safe for concurrent use.
type Loader struct {
	dir string

	registrySchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*schema.Registry
}

// NewLoader creates a Loader. dir may be empty to serve only the embedded
// built-in registries.
func NewLoader(dir string) (*Loader, error) {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(registrySchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal registry schema: %w", err)
	}
	if err := c.AddResource("https://conductor.dev/schemas/registry.json", doc); err != nil {
		return nil, fmt.Errorf("add registry schema resource: %w", err)
	}
	compiled, err := c.Compile("https://conductor.dev/schemas/registry.json")
	if err != nil {
		return nil, fmt.Errorf("compile registry schema: %w", err)
	}

	return &Loader{
		dir:            dir,
		registrySchema: compiled,
		cache:          make(map[string]*schema.Registry),
	}, nil
}

// Load returns the registry for toolKey. A missing registry yields a
// REGISTRY_NOT_FOUND error; a document that fails schema validation or whose
// tool_key disagrees with the file name yields REGISTRY_INVALID.
func (l *Loader) Load(toolKey string) (*schema.Registry, error) {
	l.mu.RLock()
	if reg, ok := l.cache[toolKey]; ok {
		l.mu.RUnlock()
		return reg, nil
	}
	l.mu.RUnlock()

	raw, err := l.read(toolKey)
	if err != nil {
		return nil, err
	}

	reg, err := l.parse(toolKey, raw)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[toolKey] = reg
	l.mu.Unlock()
	return reg, nil
}

// Keys lists the tool keys of every registry the loader can serve, embedded
// built-ins and directory overrides combined, sorted by file name.
func (l *Loader) Keys() ([]string, error) {
	seen := make(map[string]bool)
	var keys []string

	add := func(name string) {
		key := strings.TrimSuffix(name, ".json")
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	entries, err := fs.ReadDir(builtinFS, "registries")
	if err != nil {
		return nil, fmt.Errorf("read embedded registries: %w", err)
	}
	for _, e := range entries {
		add(e.Name())
	}

	if l.dir != "" {
		dirEntries, err := os.ReadDir(l.dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read registries dir: %w", err)
		}
		for _, e := range dirEntries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				add(e.Name())
			}
		}
	}
	return keys, nil
}

func (l *Loader) read(toolKey string) ([]byte, error) {
	name := toolKey + ".json"

	if l.dir != "" {
		raw, err := os.ReadFile(filepath.Join(l.dir, name))
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, schema.NewRunErrorf(schema.ErrCodeRegistryInvalid,
				schema.SourceOrchestrator, "read registry for %q: %v", toolKey, err)
		}
	}

	raw, err := builtinFS.ReadFile("registries/" + name)
	if err != nil {
		return nil, schema.NewRunErrorf(schema.ErrCodeRegistryNotFound,
			schema.SourceOrchestrator, "no registry for tool %q", toolKey)
	}
	return raw, nil
}

func (l *Loader) parse(toolKey string, raw []byte) (*schema.Registry, error) {
	invalid := func(format string, args ...any) error {
		return schema.NewRunErrorf(schema.ErrCodeRegistryInvalid,
			schema.SourceOrchestrator, format, args...)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, invalid("registry for %q is not valid JSON: %v", toolKey, err)
	}
	if err := l.registrySchema.Validate(doc); err != nil {
		return nil, invalid("registry for %q failed validation: %v", toolKey, err)
	}

	var reg schema.Registry
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, invalid("decode registry for %q: %v", toolKey, err)
	}
	if reg.ToolKey != toolKey {
		return nil, invalid("registry file %q declares tool_key %q", toolKey, reg.ToolKey)
	}

	ids := make(map[string]bool, len(reg.Operations))
	for _, op := range reg.Operations {
		if ids[op.OpID] {
			return nil, invalid("registry for %q declares operation %q twice", toolKey, op.OpID)
		}
		ids[op.OpID] = true
	}
	return &reg, nil
}
