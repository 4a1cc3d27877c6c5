package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/config"
	"github.com/leftmike/chaindb/storage/kvdriver"
)

var (
	chaindbCmd = &cobra.Command{
		Use:               "chaindb",
		Short:             "A chain state storage engine",
		Long:              "Chaindb stores contract tables with revision numbered undo sessions.",
		PersistentPreRunE: chaindbPreRun,
		PersistentPostRun: chaindbPostRun,
		SilenceUsage:      true,
	}

	logFile   = "chaindb.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "chaindb.hcl"
	noConfig   = false

	cfg     = config.Default()
	cfgVars = config.Vars{}
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := chaindbCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	cfgVars["log-file"] = fs.Lookup("log-file")

	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = fs.Lookup("log-level")

	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	cfg.Flags(fs, cfgVars)
}

func Execute() error {
	return chaindbCmd.Execute()
}

func chaindbPreRun(cmd *cobra.Command, args []string) error {
	if configFile != "" && !noConfig {
		err := cfgVars.Load(configFile)
		if err != nil && (!os.IsNotExist(err) || cmd.Flags().Changed("config-file")) {
			return fmt.Errorf("chaindb: %s", err)
		}
	}

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("chaindb: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("chaindb: %s", err)
	}
	log.SetLevel(ll)

	log.WithFields(log.Fields{
		"pid":   os.Getpid(),
		"store": cfg.Store,
	}).Info("chaindb starting")
	return nil
}

func chaindbPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("chaindb done")

	if logWriter != nil {
		logWriter.Close()
	}
}

func openDriver() (*kvdriver.Driver, error) {
	d, err := kvdriver.Open(cfg.Store, log.StandardLogger())
	if err != nil {
		return nil, fmt.Errorf("chaindb: %s: %s", cfg.Store, err)
	}
	return d, nil
}

// openController opens the store and reverts any uncommitted revisions left in
// it.
func openController() (*chaindb.Controller, error) {
	d, err := openDriver()
	if err != nil {
		return nil, err
	}

	cc := cfg.ControllerConfig(d)
	cc.FatalHandler = func(err error) {
		log.WithError(err).Fatal("chaindb failed")
	}
	ctrl, err := chaindb.Open(cc)
	if err != nil {
		d.Close()
		return nil, err
	}
	return ctrl, nil
}

func serveMetrics() error {
	if cfg.MetricsAddr == "" {
		return nil
	}

	err := chaindb.RegisterMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(cfg.MetricsAddr, mux)
		if err != nil {
			log.WithError(err).WithField("addr", cfg.MetricsAddr).Error("metrics server failed")
		}
	}()
	log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
	return nil
}
