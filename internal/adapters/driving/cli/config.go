package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/config/file"
	"github.com/custodia-labs/sercha-kb/internal/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
	Long: `Reads and edits config.toml. Values set here are overridden by
SERCHA_KB_* environment variables and by command-line flags.`,
	Annotations: map[string]string{skipSetup: "true"},
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a config file holding every default",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipSetup: "true"},
	RunE:        runConfigInit,
}

var configSetCmd = &cobra.Command{
	Use:         "set <key> <value>",
	Short:       "Set a config value",
	Example:     "  sercha-kb config set embedding.provider ollama\n  sercha-kb config set roots ~/notes,~/papers",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{skipSetup: "true"},
	RunE:        runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:         "get <key>",
	Short:       "Print a config value",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipSetup: "true"},
	RunE:        runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Print the config file location",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipSetup: "true"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), configPath(cmd))
		return nil
	},
}

// durationKeys hold values that must parse as time.Duration.
var durationKeys = map[string]bool{
	config.KeyFileTimeout:      true,
	config.KeyEmbeddingTimeout: true,
	config.KeyWatchDebounce:    true,
	config.KeyScheduleRescan:   true,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite values already in the file")
	configCmd.AddCommand(configInitCmd, configSetCmd, configGetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func configPath(cmd *cobra.Command) string {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return config.ResolvePath(cfgFile, dataDir)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := configPath(cmd)
	store, err := file.NewConfigStore(path)
	if err != nil {
		return err
	}
	if store.Exists() && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to reset it)", path)
	}

	values := config.Defaults()
	values[config.KeyDataDir] = filepath.Dir(path)
	if err := store.Merge(values, configInitForce); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := strings.ToLower(args[0]), args[1]
	value, err := parseConfigValue(key, raw)
	if err != nil {
		return err
	}

	store, err := file.NewConfigStore(configPath(cmd))
	if err != nil {
		return err
	}
	if err := store.Set(key, value); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, store.GetString(key))
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	def, known := config.Defaults()[key]
	if !known {
		return fmt.Errorf("unknown config key %q", key)
	}

	store, err := file.NewConfigStore(configPath(cmd))
	if err != nil {
		return err
	}
	if _, ok := store.Get(key); ok {
		fmt.Fprintln(cmd.OutOrStdout(), store.GetString(key))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%v (default)\n", formatDefault(def))
	return nil
}

// parseConfigValue converts raw to the type of the key's default.
func parseConfigValue(key, raw string) (any, error) {
	def, ok := config.Defaults()[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}

	invalid := func(kind string) error {
		return fmt.Errorf("%s: %q is not a valid %s", key, raw, kind)
	}
	switch def.(type) {
	case bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, invalid("boolean")
		}
		return v, nil
	case int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, invalid("integer")
		}
		return v, nil
	case float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalid("number")
		}
		return v, nil
	case []string:
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if out == nil {
			out = []string{}
		}
		return out, nil
	case string:
		if durationKeys[key] {
			if _, err := time.ParseDuration(raw); err != nil {
				return nil, invalid("duration")
			}
		}
		return raw, nil
	default:
		return nil, errors.New("unsupported config value type")
	}
}

func formatDefault(v any) string {
	if s, ok := v.([]string); ok {
		return strings.Join(s, ",")
	}
	return fmt.Sprint(v)
}
