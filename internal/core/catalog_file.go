package core

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// aliasFile is the on-disk shape of an alias file:
//
//	aliases:
//	  data: [dt_movimento, "Data Mov."]
//	  total_venda: [receita]
type aliasFile struct {
	Aliases map[string][]string `koanf:"aliases"`
}

// LoadCatalog builds a catalog from the built-in aliases plus the aliases in
// the YAML file at path. An empty path returns DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]any{"aliases": map[string]any{}}, "."), nil); err != nil {
		return nil, fmt.Errorf("load alias defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load alias file %s: %w", path, err)
	}

	var af aliasFile
	if err := k.Unmarshal("", &af); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}

	cat, err := NewCatalog(af.Aliases)
	if err != nil {
		return nil, fmt.Errorf("alias file %s: %w", path, err)
	}
	return cat, nil
}
