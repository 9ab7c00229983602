// Package roster reads and writes student roster files and drives load
// runs against a running trophy server.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okian/trophy/internal/domain/model"
	"gopkg.in/yaml.v3"
)

// ErrEmptyRoster is returned when a roster file lists no students.
var ErrEmptyRoster = errors.New("roster has no students")

const filePermission = 0o600

// File is the on-disk roster shape shared by YAML and JSON files.
type File struct {
	Students []model.StudentRecord `json:"students" yaml:"students"`
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Load reads a roster from path. Files ending in .json are decoded as JSON;
// anything else as YAML.
func Load(path string) ([]model.StudentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var f File
	if isJSON(path) {
		err = json.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if len(f.Students) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyRoster)
	}
	return f.Students, nil
}

// Save writes recs to path in the format its extension selects.
func Save(path string, recs []model.StudentRecord) error {
	f := File{Students: recs}
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(f, "", "  ")
	} else {
		data, err = yaml.Marshal(f)
	}
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, filePermission); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	return nil
}
