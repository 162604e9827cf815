package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	serverURL string
	model     string
	stateDir  string
	timeout   time.Duration
	verbose   bool
}

func (c *Config) validate() error {
	if c.serverURL == "" {
		return errors.New("--server must not be empty")
	}
	if !strings.HasPrefix(c.serverURL, "http://") && !strings.HasPrefix(c.serverURL, "https://") {
		return fmt.Errorf("invalid server URL (must start with http:// or https://): %s", c.serverURL)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DEDUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "deduction",
		Short: "Terminal client for the Deduction puzzle game.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return play(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.serverURL, "server", "s", "http://localhost:8080", "backend base URL (env: DEDUCTION_SERVER)")
	fs.StringVarP(&cfg.model, "model", "m", "", "model to chat with, defaults to the server's choice (env: DEDUCTION_MODEL)")
	fs.StringVar(&cfg.stateDir, "state-dir", "", "directory holding the remembered player name (env: DEDUCTION_STATE_DIR)")
	fs.DurationVar(&cfg.timeout, "timeout", 15*time.Second, "timeout for non-streaming requests (env: DEDUCTION_TIMEOUT)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display debug logging (env: DEDUCTION_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
