package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	server  string
	timeout time.Duration
	verbose bool
	version bool

	bind        string
	port        int
	prefix      string
	profile     bool
	tlsCert     string
	tlsKey      string
	viewTimeout time.Duration
}

func (c *Config) validate() error {
	u, err := url.Parse(c.server)
	if err != nil {
		return fmt.Errorf("invalid --server: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid --server (must be an http or https url): %q", c.server)
	}
	if c.timeout <= 0 {
		return fmt.Errorf("invalid --timeout (must be positive): %s", c.timeout)
	}
	return nil
}

func (c *Config) validateServe() error {
	if err := c.validate(); err != nil {
		return err
	}
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.viewTimeout < 0 {
		return fmt.Errorf("invalid --view-timeout (must not be negative): %s", c.viewTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindEnv lets every flag in fs fall back to TICTACTOE_<FLAG>.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TICTACTOE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "tictactoe",
		Short:         "Play multiplayer tic-tac-toe against a remote game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVarP(&cfg.server, "server", "s", "http://localhost:3000", "game server base url (env: TICTACTOE_SERVER)")
	pfs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "timeout for each request to the game server (env: TICTACTOE_TIMEOUT)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TICTACTOE_VERBOSE)")
	cmd.Flags().BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TICTACTOE_VERSION)")
	bindEnv(v, pfs)
	bindEnv(v, cmd.Flags())

	cmd.AddCommand(newGameCmd(cfg), joinGameCmd(cfg), serveCmd(cfg, v))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tictactoe v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newGameCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a game, print its join code, and play it in the terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return NewGame(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func joinGameCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "join <game-id>",
		Short: "Join an existing game and play it in the terminal.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return JoinGame(cmd.Context(), cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func serveCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve game views over HTTP, backed by the game server.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateServe(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TICTACTOE_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TICTACTOE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TICTACTOE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TICTACTOE_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TICTACTOE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TICTACTOE_TLS_KEY)")
	fs.DurationVar(&cfg.viewTimeout, "view-timeout", 30*time.Minute, "time before idle game views are closed, 0 to disable (env: TICTACTOE_VIEW_TIMEOUT)")
	bindEnv(v, fs)

	return cmd
}
