package fileunlocker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ArkLabsHQ/deadman/internal/core/ports"
)

type service struct {
	filePath string
}

// NewService returns an unlocker reading the passphrase from the first line
// of the given file.
func NewService(filePath string) (ports.Unlocker, error) {
	if len(filePath) <= 0 {
		return nil, fmt.Errorf("missing passphrase file path")
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("invalid passphrase file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("invalid passphrase file: %s is a directory", filePath)
	}
	return &service{filePath}, nil
}

func (s *service) GetPassword(_ context.Context) (string, error) {
	buf, err := os.ReadFile(s.filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase file: %w", err)
	}
	password, _, _ := strings.Cut(string(buf), "\n")
	password = strings.TrimRight(password, "\r")
	if len(password) <= 0 {
		return "", fmt.Errorf("passphrase file is empty")
	}
	return password, nil
}
