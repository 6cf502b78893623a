package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the workspace when '--config' is not
// given.
const DefaultFileName = "fusebox.yaml"

// File is the on-disk configuration. Both sections are optional.
type File struct {
	Sandbox *Sandbox `yaml:"sandbox"`
	Test    *Test    `yaml:"test"`
}

// LoadFile reads and decodes a configuration file. Unknown keys are
// rejected so typos do not silently fall back to defaults. An empty
// file yields an empty config.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %s", path, err)
	}
	defer f.Close()

	out, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %s", path, err)
	}

	return out, nil
}

func decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out File
	if err := dec.Decode(&out); err != nil {
		if err == io.EOF {
			return &File{}, nil
		}
		return nil, err
	}

	return &out, nil
}
