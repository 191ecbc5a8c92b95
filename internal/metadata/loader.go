package metadata

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type entitiesFile struct {
	Entities []Definition `yaml:"entities"`
}

// LoadFile reads entity definitions from a YAML file.
func LoadFile(path string) ([]Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open entities file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes entity definitions. Unknown keys are rejected so that a typo
// such as `recurse_ob` fails loudly instead of silently disabling embedding.
func Load(r io.Reader) ([]Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc entitiesFile
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	return doc.Entities, nil
}

// Build registers every definition and seals the registry.
func Build(reg *Registry, defs []Definition) error {
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return reg.Seal()
}
