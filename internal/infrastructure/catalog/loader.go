// Package catalog loads the achievement catalog from a human-editable YAML file.
// The catalog is read once at startup; a malformed file is fatal.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/guildkit/guild-leveling/internal/domain/achievement"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
)

//go:embed default_achievements.yaml
var defaultCatalogYAML []byte

// catalogFile is the on-disk layout.
type catalogFile struct {
	Achievements []achievement.Achievement `yaml:"achievements"`
}

// Loader reads the catalog from a path, or the embedded default when the path is empty.
type Loader struct {
	path string
}

// NewLoader creates a Loader.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// LoadAchievementCatalog reads, decodes and validates the catalog.
// Every failure wraps shared.ErrInvalidAchievementCatalog.
func (l *Loader) LoadAchievementCatalog(ctx context.Context) (*achievement.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.path == "" {
		return Parse(defaultCatalogYAML)
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, shared.WrapError("catalog", "Load", shared.ErrInvalidAchievementCatalog,
			fmt.Sprintf("failed to read %s", l.path), err)
	}
	return Parse(data)
}

// Parse decodes YAML strictly: unknown keys are rejected.
func Parse(data []byte) (*achievement.Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("catalog file is empty")
		}
		return nil, shared.WrapError("catalog", "Parse", shared.ErrInvalidAchievementCatalog,
			"failed to decode catalog", err)
	}
	return achievement.NewCatalog(file.Achievements)
}

// Default returns the embedded default catalog.
func Default() (*achievement.Catalog, error) {
	return Parse(defaultCatalogYAML)
}
