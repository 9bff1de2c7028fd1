package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"e-router/registry"
)

// FunctionTable is the YAML function table:
//
//	functions:
//	  - name: sum
//	    endpoints:
//	      - id: 127.0.0.1:7001
//	        weight: 1
//	registrations:
//	  - function: sum
//	    id: 127.0.0.1:7002
//
// Registrations add endpoints to functions declared elsewhere in the file.
// Those naming an undeclared function are skipped with a warning.
type FunctionTable struct {
	Functions     []FunctionEntry `yaml:"functions"`
	Registrations []Registration  `yaml:"registrations"`
}

type FunctionEntry struct {
	Name      string              `yaml:"name"`
	Endpoints []registry.Endpoint `yaml:"endpoints"`
}

type Registration struct {
	Function string `yaml:"function"`
	ID       string `yaml:"id"`
	Weight   int    `yaml:"weight"`
}

// LoadFunctions reads and parses the function table at path.
func LoadFunctions(path string) (*FunctionTable, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("function table path is empty")
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read function table %q: %w", cleanPath, err)
	}
	return ParseFunctions(data)
}

// ParseFunctions parses a YAML function table.
func ParseFunctions(data []byte) (*FunctionTable, error) {
	var table FunctionTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse function table: %w", err)
	}
	for idx, fn := range table.Functions {
		if strings.TrimSpace(fn.Name) == "" {
			return nil, fmt.Errorf("functions[%d]: name is required", idx)
		}
		for j, ep := range fn.Endpoints {
			if strings.TrimSpace(ep.ID) == "" {
				return nil, fmt.Errorf("functions.%s.endpoints[%d]: id is required", fn.Name, j)
			}
		}
	}
	for idx, r := range table.Registrations {
		if strings.TrimSpace(r.Function) == "" || strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("registrations[%d]: function and id are required", idx)
		}
	}
	return &table, nil
}

// Bootstrap creates every function in the table and registers its endpoints
// in order. It returns how many endpoints were registered.
func (t *FunctionTable) Bootstrap(reg registry.Registry, log zerolog.Logger) int {
	registered := 0
	register := func(function string, ep registry.Endpoint) {
		if err := reg.RegisterEndpoint(function, ep); err != nil {
			log.Warn().Err(err).Str("function", function).Str("endpoint", ep.ID).Msg("endpoint not registered")
			return
		}
		registered++
	}

	for _, fn := range t.Functions {
		reg.CreateFunction(fn.Name)
		for _, ep := range fn.Endpoints {
			register(fn.Name, ep)
		}
		log.Info().Str("function", fn.Name).Int("endpoints", len(fn.Endpoints)).Msg("function loaded")
	}
	for _, r := range t.Registrations {
		register(r.Function, registry.Endpoint{ID: r.ID, Weight: r.Weight})
	}
	return registered
}
