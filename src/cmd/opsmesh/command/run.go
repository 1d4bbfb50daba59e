package command

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/opsmesh/opsmesh/src/collective"
	"github.com/opsmesh/opsmesh/src/gossip"
	"github.com/opsmesh/opsmesh/src/service"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run node",
		RunE:  runNode,
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := conf.Logger()

	if *logDir != "" {
		addFileHooks(logger.Logger, *logDir)
	}

	logger.WithFields(logrus.Fields{
		"datadir":          conf.DataDir,
		"listen":           conf.BindAddr,
		"service-listen":   conf.ServiceAddr,
		"enabled":          conf.Enabled,
		"moniker":          conf.Moniker,
		"heartbeat":        conf.HeartbeatInterval,
		"empathy-sync":     conf.EmpathySyncInterval,
		"auto-remediation": conf.AutoRemediation,
		"store":            conf.Store,
	}).Debug("RUN")

	// A disabled collective performs no networking at all, so don't even
	// bind the gossip endpoint.
	var trans gossip.Transport
	if conf.Enabled {
		tcp, err := gossip.NewTCPTransport(conf.BindAddr, conf.HeartbeatInterval, logger)
		if err != nil {
			return err
		}
		trans = tcp
	} else {
		_, trans = gossip.NewInmemTransport("")
	}

	node, err := collective.NewCollective(conf, trans)
	if err != nil {
		return err
	}

	if err := node.Start(); err != nil {
		return err
	}

	if !conf.NoService {
		serviceServer := service.NewService(conf.ServiceAddr, node, logger)
		go serviceServer.Serve()
	}

	// Relay SIGINT and SIGTERM to shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	node.Shutdown()

	return nil
}

// addFileHooks routes info and debug output to files in dir, on top of the
// regular stderr output.
func addFileHooks(logger *logrus.Logger, dir string) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		logger.WithError(err).Warn("Cannot create log directory, using stderr only")
		return
	}

	pathMap := lfshook.PathMap{
		logrus.InfoLevel:  filepath.Join(dir, "opsmesh_info.log"),
		logrus.DebugLevel: filepath.Join(dir, "opsmesh_debug.log"),
		logrus.WarnLevel:  filepath.Join(dir, "opsmesh_info.log"),
		logrus.ErrorLevel: filepath.Join(dir, "opsmesh_info.log"),
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
