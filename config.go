package deeb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Config declares a set of instances, usually loaded from a YAML file:
//
//	instances:
//	  - name: main
//	    path: main.json
//	    entities:
//	      - name: user
//	        indexes:
//	          - name: by_email
//	            fields: [email]
//	            unique: true
//	        associations:
//	          - entity: comment
//	            from: _id
//	            to: user_id
//	            alias: comments
type Config struct {
	Instances []InstanceConfig `json:"instances" yaml:"instances" jsonschema:"minItems=1"`
}

// InstanceConfig declares one instance file and its entities.
type InstanceConfig struct {
	Name string `json:"name" yaml:"name" jsonschema:"minLength=1"`
	// Path is resolved relative to the config file.
	Path     string    `json:"path" yaml:"path" jsonschema:"minLength=1"`
	Entities []*Entity `json:"entities" yaml:"entities"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data, filepath.Dir(abs))
}

// ParseConfig decodes and validates a YAML config. Relative instance paths
// are resolved against dir.
func ParseConfig(data []byte, dir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrConfiguration, err)
	}
	for i := range cfg.Instances {
		p := cfg.Instances[i].Path
		if p != "" && !filepath.IsAbs(p) {
			cfg.Instances[i].Path = filepath.Join(dir, p)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that names, paths and entities are unique and that every
// association targets a declared entity.
func (c *Config) Validate() error {
	if len(c.Instances) == 0 {
		return fmt.Errorf("%w: no instance declared", ErrConfiguration)
	}
	var names, paths, entities []string
	for i := range c.Instances {
		ic := &c.Instances[i]
		if ic.Name == "" {
			return fmt.Errorf("%w: instance %d has no name", ErrConfiguration, i)
		}
		if ic.Path == "" {
			return fmt.Errorf("%w: instance %q has no path", ErrConfiguration, ic.Name)
		}
		if slices.Contains(names, ic.Name) {
			return fmt.Errorf("%w: instance %q declared twice", ErrConfiguration, ic.Name)
		}
		names = append(names, ic.Name)
		p := filepath.Clean(ic.Path)
		if slices.Contains(paths, p) {
			return fmt.Errorf("%w: path %s used by two instances", ErrConfiguration, p)
		}
		paths = append(paths, p)
		for _, e := range ic.Entities {
			if e == nil {
				return fmt.Errorf("%w: instance %q: empty entity", ErrConfiguration, ic.Name)
			}
			if err := e.Validate(); err != nil {
				return fmt.Errorf("instance %q: %w", ic.Name, err)
			}
			if slices.Contains(entities, e.Name) {
				return fmt.Errorf("%w: entity %q declared twice", ErrConfiguration, e.Name)
			}
			entities = append(entities, e.Name)
		}
	}
	for i := range c.Instances {
		for _, e := range c.Instances[i].Entities {
			for _, a := range e.Associations {
				if !slices.Contains(entities, a.Entity) {
					return fmt.Errorf("%w: entity %q: association %q targets unknown entity %q", ErrConfiguration, e.Name, a.alias(), a.Entity)
				}
			}
		}
	}
	return nil
}

// RegisterConfig registers every instance of cfg concurrently.
func (db *Deeb) RegisterConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	eg, ctx := errgroup.WithContext(ctx)
	for i := range cfg.Instances {
		ic := &cfg.Instances[i]
		eg.Go(func() error {
			return db.Register(ctx, ic.Name, ic.Path, ic.Entities...)
		})
	}
	return eg.Wait()
}

// ConfigSchema returns the JSON Schema of Config, for editor validation of
// config files.
func ConfigSchema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(&Config{})
	return json.MarshalIndent(s, "", "  ")
}
