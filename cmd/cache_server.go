package cmd

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctimpute/ctimpute/internal/cache"
)

var (
	cacheServerPort    int
	cacheServerBackend string
	cacheServerRoot    string
)

var cacheServerCmd = &cobra.Command{
	Use:   "cache-server",
	Short: "Run the TCP offload cache helper process",
	RunE:  runCacheServer,
}

func init() {
	f := cacheServerCmd.Flags()
	f.IntVar(&cacheServerPort, "port", 9444, "TCP port to listen on")
	f.StringVar(&cacheServerBackend, "backend", "local", "Underlying backend: local or file")
	f.StringVar(&cacheServerRoot, "root", "", "Root directory for the file backend (defaults to CTIMPUTE_CACHE_ROOT or os.TempDir())")
}

func runCacheServer(cmd *cobra.Command, args []string) error {
	var backend cache.Backend
	switch strings.ToLower(cacheServerBackend) {
	case "", "local":
		backend = cache.LocalBackend{}
	case "file":
		backend = cache.FileBackend{Root: cacheRoot(&EngineConfig{CacheRoot: cacheServerRoot})}
	default:
		return fmt.Errorf("ctimpute: unknown cache-server backend %q", cacheServerBackend)
	}

	addr := fmt.Sprintf(":%d", cacheServerPort)
	logrus.Infof("cache server listening on %s (backend=%s)", addr, cacheServerBackend)
	return cache.ServeCacheServer(addr, backend)
}
