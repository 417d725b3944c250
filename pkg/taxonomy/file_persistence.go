package taxonomy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FilePersistence implements Persistence using a YAML or JSON file.
// The file is either a bare list of topics or a mapping with a "topics" key.
type FilePersistence struct {
	filepath string
}

// NewFilePersistence creates a new file-based taxonomy persistence handler
func NewFilePersistence(filepath string) *FilePersistence {
	return &FilePersistence{
		filepath: filepath,
	}
}

type taxonomyFile struct {
	Topics []string `yaml:"topics" json:"topics"`
}

// Load reads the topics from the file. If the file doesn't exist, returns DefaultSeed.
func (f *FilePersistence) Load() ([]string, error) {
	data, err := os.ReadFile(f.filepath)
	if errors.Is(err, os.ErrNotExist) {
		return append([]string(nil), DefaultSeed...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy from file %s: %w", f.filepath, err)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc taxonomyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy file %s: %w", f.filepath, err)
	}
	return doc.Topics, nil
}

// Save writes the topics to the file as JSON, creating parent directories as needed
func (f *FilePersistence) Save(topics []string) error {
	if topics == nil {
		topics = []string{}
	}
	data, err := json.MarshalIndent(taxonomyFile{Topics: topics}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal taxonomy: %w", err)
	}

	if dir := filepath.Dir(f.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(f.filepath, data, 0644); err != nil {
		return fmt.Errorf("failed to write taxonomy to file %s: %w", f.filepath, err)
	}
	return nil
}
