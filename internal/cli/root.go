package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dl-alexandre/gdmirror/internal/config"
	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/dl-alexandre/gdmirror/pkg/version"
	"github.com/spf13/cobra"
)

var (
	globalFlags    types.GlobalFlags
	logger         logging.Logger = logging.NewNoOpLogger()
	debugTransport *logging.DebugTransport
	appConfig      = config.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "gdmirror",
	Short: "Mirror local folders into Google Drive",
	Long: `gdmirror copies a local directory tree into Google Drive, creating one
Drive folder per local directory and uploading every file into the folder
of its directory. It also offers the basic Drive operations it is built on:
listing, searching, uploading, downloading and moving files.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(globalFlags.Config)
		if err != nil {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
		}
		appConfig = cfg
		applyConfigDefaults(cmd, cfg)

		if err := validateGlobalFlags(); err != nil {
			return err
		}

		logConfig := logging.DefaultLogConfig()
		logConfig.OutputFile = globalFlags.LogFile
		logConfig.EnableDebug = globalFlags.Debug
		logConfig.EnableColor = cfg.ColorOutput
		logConfig.Level = logging.ParseLevel(cfg.LogLevel)
		if globalFlags.Verbose || globalFlags.Debug {
			logConfig.Level = logging.DEBUG
		}
		if globalFlags.Quiet || cfg.LogLevel == "quiet" {
			logConfig.EnableConsole = false
		}
		// JSON output stays machine readable unless asked otherwise
		if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
			logConfig.EnableConsole = false
		}

		logger, debugTransport, err = logging.NewDebugLoggerWithTransport(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Close()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := GetGlobalFlags()
		info := version.Get()
		if flags.OutputFormat == types.OutputFormatJSON {
			return NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose).WriteSuccess("version", info)
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Profile, "profile", "default", "Authentication profile to use")
	rootCmd.PersistentFlags().StringVar(&globalFlags.DriveID, "drive-id", "", "Shared Drive ID to operate in")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Log every Drive HTTP request")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file")

	rootCmd.AddCommand(versionCmd)
}

// applyConfigDefaults fills flags the user did not set from the config file
func applyConfigDefaults(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if !flags.Changed("profile") {
		globalFlags.Profile = cfg.DefaultProfile
	}
	if !flags.Changed("output") {
		globalFlags.OutputFormat = cfg.DefaultOutputFormat
	}
}

func validateGlobalFlags() error {
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}
	globalFlags.OutputFormat = types.OutputFormat(strings.ToLower(string(globalFlags.OutputFormat)))

	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid output format: %s", globalFlags.OutputFormat)).Build())
	}
	if globalFlags.Profile == "" {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "profile must not be empty").Build())
	}
	return nil
}

// Execute runs the root command and returns the process exit code.
// SIGINT and SIGTERM cancel the command context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return utils.ExitSuccess
	}

	cliErr := toCLIError(err)
	out := NewOutputWriter(globalFlags.OutputFormat, globalFlags.Quiet, globalFlags.Verbose)
	if writeErr := out.WriteError(commandName(cmd), cliErr); writeErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return utils.GetExitCode(cliErr.Code)
}

// toCLIError maps any command error onto the structured error envelope
func toCLIError(err error) types.CLIError {
	var appErr *utils.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.CLIError
	case errors.Is(err, context.Canceled):
		return utils.NewCLIError(utils.ErrCodeCancelled, "Operation cancelled").Build()
	case errors.Is(err, context.DeadlineExceeded):
		return utils.NewCLIError(utils.ErrCodeTimeout, "Operation timed out").WithRetryable(true).Build()
	}
	// cobra reports bad flags and arguments as plain errors
	return utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build()
}

// commandName turns "gdmirror files list" into "files.list"
func commandName(cmd *cobra.Command) string {
	if cmd == nil || cmd == rootCmd {
		return "gdmirror"
	}
	path := strings.TrimPrefix(cmd.CommandPath(), rootCmd.Name()+" ")
	return strings.ReplaceAll(path, " ", ".")
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	return logger
}
