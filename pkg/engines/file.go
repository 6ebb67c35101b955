package engines

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/bastiangx/omnisuggest/internal/utils"
)

// engineFile is the TOML layout of a saved engine list.
type engineFile struct {
	Default string            `toml:"default"`
	Engines []TemplateURLData `toml:"engine"`
}

// Save writes every engine and the default keyword to path.
func (r *Registry) Save(path string) error {
	file := engineFile{}
	if d := r.Default(); d != nil {
		file.Default = d.Keyword()
	}
	for _, t := range r.All() {
		file.Engines = append(file.Engines, t.Data())
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(file); err != nil {
		return fmt.Errorf("failed to encode engines: %w", err)
	}
	if err := utils.WriteFileAtomic(path, buf.Bytes()); err != nil {
		log.Errorf("Failed to save engines to %s: %v", path, err)
		return fmt.Errorf("failed to save engines: %w", err)
	}
	log.Debugf("Saved %d engines to %s", len(file.Engines), path)
	return nil
}

// LoadRegistry reads an engine list saved by Save. Engines that fail validation
// or lose a keyword conflict are skipped with a warning. When the file names no
// usable default, the first engine becomes the default.
func LoadRegistry(path string) (*Registry, error) {
	var file engineFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to read engines %s: %w", path, err)
	}

	r := NewRegistry()
	for _, d := range file.Engines {
		if _, err := r.Add(d); err != nil {
			log.Warnf("Skipping engine '%s' from %s: %v", d.ShortName, path, err)
		}
	}

	if file.Default != "" {
		if err := r.SetDefaultKeyword(file.Default); err == nil {
			return r, nil
		}
		log.Warnf("Default engine '%s' not found in %s", file.Default, path)
	}
	if all := r.All(); len(all) > 0 {
		if err := r.SetDefault(all[0].ID()); err != nil {
			return nil, err
		}
	}
	return r, nil
}
