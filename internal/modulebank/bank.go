// Package modulebank embeds the builtin assessment module definitions and
// parses them into immutable ModuleDefinitions at startup.
package modulebank

import (
	"embed"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"mira/internal/interview"
	"mira/internal/logging"
)

// Embedded filenames carry a numeric prefix so directory order is the
// interview order.
//
//go:embed modules/*.yaml
var moduleFS embed.FS

// Bank holds the loaded module definitions keyed by id, preserving the
// embedded file order as the default interview sequence. Definitions are
// shared read-only across sessions and must not be mutated by callers.
type Bank struct {
	order []string
	byID  map[string]*interview.ModuleDefinition
}

// Load parses every embedded module file. A file that fails to read, decode,
// or validate is skipped with a warning so one bad definition degrades the
// bank instead of aborting startup.
func Load(logger logging.Logger) *Bank {
	return loadFrom(moduleFS, "modules", logger)
}

func loadFrom(fsys fs.FS, dir string, logger logging.Logger) *Bank {
	logger = logging.OrNop(logger)
	bank := &Bank{byID: make(map[string]*interview.ModuleDefinition)}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		logger.Error("module bank: reading module definitions: %v", err)
		return bank
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}

		raw, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			logger.Warn("module bank: skipping %s: %v", name, err)
			continue
		}

		var def interview.ModuleDefinition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			logger.Warn("module bank: skipping %s: decode failed: %v", name, err)
			continue
		}
		if err := def.Validate(); err != nil {
			logger.Warn("module bank: skipping %s: %v", name, err)
			continue
		}
		if _, exists := bank.byID[def.ID]; exists {
			logger.Warn("module bank: skipping %s: duplicate module id %s", name, def.ID)
			continue
		}

		bank.byID[def.ID] = &def
		bank.order = append(bank.order, def.ID)
	}

	logger.Info("module bank: loaded %d modules: %s", len(bank.order), strings.Join(bank.order, ", "))
	return bank
}

// Module returns the definition with the given id, if loaded.
func (b *Bank) Module(id string) (*interview.ModuleDefinition, bool) {
	def, ok := b.byID[id]
	return def, ok
}

// IDs returns the module ids in interview order.
func (b *Bank) IDs() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Modules returns every loaded definition in interview order.
func (b *Bank) Modules() []*interview.ModuleDefinition {
	out := make([]*interview.ModuleDefinition, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id])
	}
	return out
}

// Len returns the number of loaded modules.
func (b *Bank) Len() int {
	return len(b.order)
}
