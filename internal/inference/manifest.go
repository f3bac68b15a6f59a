package inference

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrManifestNotFound = errors.New("model manifest not found")

// Manifest locations probed inside a model directory, in order. JSON
// manifests parse as YAML.
var manifestCandidates = []string{
	filepath.Join("MAR-INF", "MANIFEST.json"),
	"manifest.yaml",
	"manifest.yml",
}

type ManifestModel struct {
	Name           string `yaml:"modelName"`
	Version        string `yaml:"modelVersion"`
	Handler        string `yaml:"handler"`
	SerializedFile string `yaml:"serializedFile"`
}

type Manifest struct {
	ID              string        `yaml:"id"`
	CreatedOn       string        `yaml:"createdOn"`
	Runtime         string        `yaml:"runtime"`
	ArchiverVersion string        `yaml:"archiverVersion"`
	Model           ManifestModel `yaml:"model"`
}

// Identifier returns the explicit id when present, else name@version.
func (m Manifest) Identifier() string {
	if id := strings.TrimSpace(m.ID); id != "" {
		return id
	}
	if m.Model.Version == "" {
		return m.Model.Name
	}
	return m.Model.Name + "@" + m.Model.Version
}

func LoadManifest(modelDir string) (Manifest, string, error) {
	for _, candidate := range manifestCandidates {
		path := filepath.Join(modelDir, candidate)
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Manifest{}, "", fmt.Errorf("read manifest %q: %w", path, err)
		}
		var manifest Manifest
		if err := yaml.Unmarshal(raw, &manifest); err != nil {
			return Manifest{}, "", fmt.Errorf("parse manifest %q: %w", path, err)
		}
		return manifest, path, nil
	}
	return Manifest{}, "", fmt.Errorf("%w in %q", ErrManifestNotFound, modelDir)
}
