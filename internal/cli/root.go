package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/me/gotune/internal/logging"
)

var (
	logger *slog.Logger
	client *Client
)

// NewRootCmd creates the root cobra command for the gotune CLI.
//
// Persistent flags can also be set as GOTUNE_<FLAG> environment variables
// (GOTUNE_SERVER, GOTUNE_WORKER_KEY, ...) or in ~/.gotune/cli.yaml.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "gotune",
		Short: "gotune: asynchronous successive halving for hyperparameter search",
		Long: `gotune samples hyperparameter configurations, trains them with growing
resource budgets and stops the weak ones early.

Run an experiment locally with "gotune run", or talk to a gotune server
with the status, list, show, stop and runs commands.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(v); err != nil {
				return err
			}
			level := v.GetString("log-level")
			if v.GetBool("debug") {
				level = "debug"
			}
			lvl, ok := logging.LookupLevel(level)
			if !ok {
				return fmt.Errorf("unknown log level %q", level)
			}
			logger = logging.New(logging.Options{
				Level:  lvl,
				Format: v.GetString("log-format"),
				Writer: cmd.ErrOrStderr(),
			})
			client = NewClient(v.GetString("server"), logger)
			client.WorkerKey = v.GetString("worker-key")
			return nil
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("server", "http://localhost:8080", "gotune server URL")
	pf.String("worker-key", "", "Shared secret sent as X-Worker-Key")
	pf.Bool("debug", false, "Enable debug logging")
	pf.String("log-level", "warn", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.String("config", "", "CLI config file (default ~/.gotune/cli.yaml)")
	_ = v.BindPFlags(pf)

	v.SetEnvPrefix("GOTUNE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newStatusCmd(),
		newListCmd(),
		newShowCmd(),
		newStopCmd(),
		newRunsCmd(),
		newCheckpointCmd(),
	)

	return root
}

// readConfig loads the optional CLI config file. A missing default file is
// not an error; a missing explicit one is.
func readConfig(v *viper.Viper) error {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.SetConfigName("cli")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(home, ".gotune"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}
