package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dl-alexandre/gdmirror/internal/config"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing gdmirror configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Use 'config show' to see available keys",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Args:  cobra.NoArgs,
	RunE:  runConfigReset,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show where configuration and state are kept",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)
	if flags.OutputFormat == types.OutputFormatJSON {
		return out.WriteSuccess("config.show", appConfig)
	}
	return out.WriteSuccess("config.show", configValues(appConfig))
}

// configValues flattens the config for the key/value table
func configValues(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"defaultProfile":      cfg.DefaultProfile,
		"defaultOutputFormat": cfg.DefaultOutputFormat,
		"clientSecretsPath":   cfg.ClientSecretsPath,
		"maxRetries":          cfg.MaxRetries,
		"retryBaseDelay":      cfg.RetryBaseDelay,
		"retryMaxDelay":       cfg.RetryMaxDelay,
		"requestTimeout":      cfg.RequestTimeout,
		"logLevel":            cfg.LogLevel,
		"colorOutput":         cfg.ColorOutput,
		"mirrorConcurrency":   cfg.MirrorConcurrency,
		"mirrorPolicy":        cfg.MirrorPolicy,
		"checkpointPath":      cfg.CheckpointPath,
		"excludePatterns":     strings.Join(cfg.ExcludePatterns, ","),
		"defaultExcludes":     cfg.DefaultExcludes,
	}
}

// setConfigValue applies one key; Validate runs before saving
func setConfigValue(cfg *config.Config, key, value string) error {
	intValue := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return n, nil
	}

	var err error
	switch strings.ToLower(key) {
	case "defaultprofile":
		cfg.DefaultProfile = value
	case "defaultoutputformat":
		cfg.DefaultOutputFormat = types.OutputFormat(value)
	case "clientsecretspath":
		cfg.ClientSecretsPath = value
	case "maxretries":
		cfg.MaxRetries, err = intValue()
	case "retrybasedelay":
		cfg.RetryBaseDelay, err = intValue()
	case "retrymaxdelay":
		cfg.RetryMaxDelay, err = intValue()
	case "requesttimeout":
		cfg.RequestTimeout, err = intValue()
	case "loglevel":
		cfg.LogLevel = value
	case "coloroutput":
		cfg.ColorOutput = config.ParseBool(value)
	case "mirrorconcurrency":
		cfg.MirrorConcurrency, err = intValue()
	case "mirrorpolicy":
		cfg.MirrorPolicy = strings.ToLower(value)
	case "checkpointpath":
		cfg.CheckpointPath = value
	case "excludepatterns":
		cfg.ExcludePatterns = nil
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.ExcludePatterns = append(cfg.ExcludePatterns, p)
			}
		}
	case "defaultexcludes":
		cfg.DefaultExcludes = config.ParseBool(value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	key, value := args[0], args[1]
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
	}

	if err := setConfigValue(cfg, key, value); err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).
			WithContext("key", key).Build())
	}
	if err := cfg.Save(flags.Config); err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError,
			fmt.Sprintf("Failed to save configuration: %v", err)).Build())
	}

	out.Log("Configuration updated: %s = %s", key, value)
	return out.WriteSuccess("config.set", map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	cfg := config.DefaultConfig()
	if err := cfg.Save(flags.Config); err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError,
			fmt.Sprintf("Failed to reset configuration: %v", err)).Build())
	}

	out.Log("Configuration reset to defaults")
	return out.WriteSuccess("config.reset", cfg)
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	configPath := flags.Config
	if configPath == "" {
		var err error
		if configPath, err = config.GetConfigPath(); err != nil {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).Build())
		}
	}
	secrets, err := appConfig.GetClientSecretsPath()
	if err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).Build())
	}
	journal, err := appConfig.GetCheckpointPath()
	if err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).Build())
	}

	return out.WriteSuccess("config.path", map[string]interface{}{
		"config":        configPath,
		"clientSecrets": secrets,
		"checkpoints":   journal,
	})
}
