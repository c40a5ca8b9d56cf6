package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type DatabaseKind string

const (
	KindSQL      DatabaseKind = "sql"
	KindDocument DatabaseKind = "document"
)

type DatabaseTarget struct {
	Kind      DatabaseKind `yaml:"kind" json:"kind" validate:"oneof=sql document"`
	Container string       `yaml:"container" json:"container" validate:"required"`
	Database  string       `yaml:"database" json:"database" validate:"required"`
}

// Plan lists what BackupAll covers. An empty Volumes list means every volume
// of the compose project.
type Plan struct {
	Databases []DatabaseTarget `yaml:"databases" json:"databases" validate:"dive"`
	Volumes   []string         `yaml:"volumes" json:"volumes,omitempty"`
}

func DefaultPlan() Plan {
	return Plan{Databases: []DatabaseTarget{
		{Kind: KindSQL, Container: "auth-mysql", Database: "edg_auth"},
		{Kind: KindDocument, Container: "log-mongo", Database: "edg_logs"},
	}}
}

var planValidator = validator.New()

// LoadPlan reads a YAML plan. A missing file yields DefaultPlan.
func LoadPlan(path string) (Plan, error) {
	if path == "" {
		return DefaultPlan(), nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultPlan(), nil
	}
	if err != nil {
		return Plan{}, fmt.Errorf("read backup plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Plan{}, fmt.Errorf("parse backup plan %s: %w", path, err)
	}
	if err := planValidator.Struct(p); err != nil {
		return Plan{}, fmt.Errorf("invalid backup plan %s: %w", path, err)
	}
	for _, d := range p.Databases {
		if !validName(d.Database) {
			return Plan{}, fmt.Errorf("invalid backup plan %s: database name %q", path, d.Database)
		}
	}
	return p, nil
}
