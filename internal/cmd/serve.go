package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/internal/observability"
	"github.com/ln2t/hpcjobs/internal/server"
	"github.com/ln2t/hpcjobs/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job store over HTTP",
	Long: `Start a read-only HTTP API over the local job store.

The server never contacts the cluster; it reports the statuses last
recorded by 'hpcjobs status' or 'hpcjobs watch'.

Routes:
  GET /health, /health/live, /health/ready, /health/startup
  GET /version
  GET /jobs?tool=<glob>&dataset=<glob>
  GET /jobs/{id}`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default server.port)")
}

// identityHealthChecker fails when the app identity is incomplete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(_ context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("missing binary name")
	case c.envPrefix == "":
		return errors.New("missing env prefix")
	case c.configName == "":
		return errors.New("missing config name")
	}
	return nil
}

// storeHealthChecker fails when the job store file exists but cannot be read.
// A missing file is an empty store.
type storeHealthChecker struct {
	path string
}

func (c storeHealthChecker) CheckHealth(_ context.Context) error {
	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, err := os.Stat(filepath.Dir(c.path)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("job store directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("job store: %w", err)
	}
	return f.Close()
}

func runServe(cmd *cobra.Command, _ []string) error {
	c := currentConfig()

	if !verbose {
		if err := observability.Configure(appIdentity.BinaryName, c.Logging.Level, c.Logging.Profile); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
		}
	}
	logger := observability.CLILogger.Named("server")

	host := c.Server.Host
	if cmd.Flags().Changed("host") {
		host = serveHost
	}
	port := c.Server.Port
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	store := openStore(c)
	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("identity", identityHealthChecker{
		binaryName: appIdentity.BinaryName,
		envPrefix:  appIdentity.EnvPrefix,
		configName: appIdentity.ConfigName,
	})
	hm.RegisterChecker("store", storeHealthChecker{path: store.Path()})

	srv := server.New(host, port,
		server.WithJobs(store, c.Markers()),
		server.WithVersion(handlers.VersionInfo{
			Name:      appIdentity.BinaryName,
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithLogger(logger),
		server.WithTimeouts(server.Timeouts{
			Read:     c.Server.ReadTimeout,
			Write:    c.Server.WriteTimeout,
			Idle:     c.Server.IdleTimeout,
			Shutdown: c.Server.ShutdownTimeout,
		}),
	)

	logger.Info("Starting server", zap.String("addr", srv.Addr()), zap.String("store", store.Path()))
	if err := srv.Run(cmd.Context()); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	logger.Info("Server stopped")
	return nil
}
