package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/corostack/internal/snapshot"
)

// ParseSnapshot decodes an inline heap snapshot.
func ParseSnapshot(t *testing.T, doc string) *snapshot.Process {
	t.Helper()
	p, err := snapshot.Parse([]byte(doc))
	require.NoError(t, err)
	return p
}

// WriteSnapshot writes doc to a file in a temporary directory and returns
// its path.
func WriteSnapshot(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}
