package hmm

import (
	"testing"

	"github.com/ctimpute/ctimpute/internal/cache"
)

func fileBackendForTest(t *testing.T) cache.Backend {
	t.Helper()
	return cache.FileBackend{Root: t.TempDir()}
}
