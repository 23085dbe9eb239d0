// Package cmd contains all the commands included in the faasctl binary.
package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eventflow/faasctl/config"
	"github.com/eventflow/faasctl/console"
)

// app carries what every command needs once flags are parsed.
type app struct {
	v   *viper.Viper
	cfg *config.Config
	log *zap.Logger
}

// NewRootCommand enables all children commands to read settings from CLI flags, environment
// variables prefixed with FAASCTL, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "faasctl",
		Short: "Manage functions on a multi-tenant FaaS platform",
		Long: `faasctl logs in to a function platform and keeps a local view of your tenant's
functions in sync while you create, invoke, undeploy and delete them.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	config.BindFlags(a.v, root.PersistentFlags())

	root.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
		newListCommand(a),
		newGetCommand(a),
		newCreateCommand(a),
		newDeleteCommand(a),
		newUndeployCommand(a),
		newInvokeCommand(a),
		newLogsCommand(a),
		newWatchCommand(a),
		newVersionCommand(),
	)
	return root
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

// withConsole opens the console for the duration of fn.
func (a *app) withConsole(fn func(c *console.Console) error) error {
	c, err := console.New(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer func() {
		c.Close()
		a.log.Sync()
	}()
	return fn(c)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		logCfg = zap.NewDevelopmentConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {}
		logCfg.DisableCaller = true
		logCfg.DisableStacktrace = true
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return logCfg.Build()
}
