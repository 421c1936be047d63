package handler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const dumpPrefix = "uberMonzoAttachment-"

// BodyDumper keeps a copy of each raw webhook body for later inspection.
type BodyDumper interface {
	Dump(body []byte) (string, error)
}

// DirDumper writes each body to its own file in Dir.
type DirDumper struct {
	Dir string
}

// Dump writes body to a new file and returns its path.
func (d DirDumper) Dump(body []byte) (string, error) {
	dir := d.Dir
	if dir == "" {
		dir = os.TempDir()
	}

	name := filepath.Join(dir, dumpPrefix+uuid.NewString())
	if err := os.WriteFile(name, body, 0o600); err != nil {
		return "", fmt.Errorf("dump body: %w", err)
	}

	return name, nil
}
