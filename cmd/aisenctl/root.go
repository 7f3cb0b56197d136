package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
	"github.com/strongdm/aisen-telemetry/pkg/aisen/config"
	"github.com/strongdm/aisen-telemetry/pkg/aisen/sinks/websocket"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	v          *viper.Viper
	configPath string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "aisenctl",
		Short: "Inspect and exercise an aisen telemetry setup",
		Long: `aisenctl loads the same configuration as the aisen client
(a YAML file, AISEN_* environment variables or a connection string)
and uses it to send test events or simulate incident lifecycles.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to configuration file")
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("connection-string", "", "Connection string aisen://API_KEY@HOST/PROJECT_ID")
	flags.String("transport", config.TransportHTTP, "Delivery transport (http, websocket)")
	_ = a.v.BindPFlag("debug", flags.Lookup("debug"))
	_ = a.v.BindPFlag("connection_string", flags.Lookup("connection-string"))
	_ = a.v.BindPFlag("transport", flags.Lookup("transport"))

	rootCmd.AddCommand(a.newSendTestCmd(), a.newSimulateCmd(), a.newConfigCmd())
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWith(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if cfg.Debug {
		a.logger, err = zap.NewDevelopment()
	} else {
		a.logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

// newClient builds a client from the loaded configuration. A non-nil sink
// replaces the configured transport.
func (a *app) newClient(sink aisen.Sink, mutate func(*aisen.Options)) (*aisen.Client, error) {
	opts, err := a.cfg.Options()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&opts)
	}

	if sink == nil && a.cfg.Transport == config.TransportWebSocket {
		ws, err := websocket.New(websocket.Config{
			Endpoint:  opts.Endpoint,
			APIKey:    opts.APIKey,
			ProjectID: opts.ProjectID,
			Logger:    a.logger,
		})
		if err != nil {
			return nil, err
		}
		sink = ws
	}

	options := []aisen.Option{aisen.WithLogger(a.logger)}
	if sink != nil {
		options = append(options, aisen.WithSink(sink))
	}
	return aisen.New(opts, options...)
}
