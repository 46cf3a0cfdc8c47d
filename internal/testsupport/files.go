package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteSetup drops a setup-file fixture at path and returns the path.
// Parent directories are created so nested car/track layouts can be
// built in one call.
func WriteSetup(t testing.TB, path, content string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
