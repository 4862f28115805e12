package fileunlocker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	fileunlocker "github.com/ArkLabsHQ/deadman/internal/infrastructure/unlocker/file"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "passphrase")
		require.NoError(t, os.WriteFile(path, []byte("alpha beta\nignored\n"), 0600))

		svc, err := fileunlocker.NewService(path)
		require.NoError(t, err)

		password, err := svc.GetPassword(context.Background())
		require.NoError(t, err)
		require.Equal(t, "alpha beta", password)
	})

	t.Run("empty", func(t *testing.T) {
		path := filepath.Join(dir, "empty")
		require.NoError(t, os.WriteFile(path, []byte("\n"), 0600))

		svc, err := fileunlocker.NewService(path)
		require.NoError(t, err)

		_, err = svc.GetPassword(context.Background())
		require.Error(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := fileunlocker.NewService("")
		require.Error(t, err)

		_, err = fileunlocker.NewService(filepath.Join(dir, "missing"))
		require.Error(t, err)

		_, err = fileunlocker.NewService(dir)
		require.Error(t, err)
	})
}
