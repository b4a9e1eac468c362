package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
)

func TestToCLIError(t *testing.T) {
	appErr := utils.NewAppError(utils.NewCLIError(utils.ErrCodeFolderNotFound, "no folder").Build())

	tests := []struct {
		name      string
		err       error
		wantCode  string
		retryable bool
	}{
		{"app error", appErr, utils.ErrCodeFolderNotFound, false},
		{"wrapped app error", fmt.Errorf("mirror: %w", appErr), utils.ErrCodeFolderNotFound, false},
		{"cancelled", fmt.Errorf("upload: %w", context.Canceled), utils.ErrCodeCancelled, false},
		{"deadline", context.DeadlineExceeded, utils.ErrCodeTimeout, true},
		{"cobra usage", errors.New(`unknown flag: --bogus`), utils.ErrCodeInvalidArgument, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toCLIError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
		})
	}
}

func TestCancelledExitCode(t *testing.T) {
	got := utils.GetExitCode(toCLIError(context.Canceled).Code)
	if got != utils.ExitCancelled {
		t.Errorf("exit code = %d, want %d", got, utils.ExitCancelled)
	}
}

func TestCommandName(t *testing.T) {
	if got := commandName(nil); got != "gdmirror" {
		t.Errorf("commandName(nil) = %q", got)
	}
	if got := commandName(rootCmd); got != "gdmirror" {
		t.Errorf("commandName(root) = %q", got)
	}
	if got := commandName(mirrorCmd); got != "mirror" {
		t.Errorf("commandName(mirror) = %q", got)
	}
	if got := commandName(configShowCmd); got != "config.show" {
		t.Errorf("commandName(config show) = %q", got)
	}
}

func TestValidateGlobalFlags(t *testing.T) {
	saved := globalFlags
	t.Cleanup(func() { globalFlags = saved })

	tests := []struct {
		name    string
		flags   types.GlobalFlags
		want    types.OutputFormat
		wantErr bool
	}{
		{"table", types.GlobalFlags{Profile: "default", OutputFormat: "table"}, types.OutputFormatTable, false},
		{"json alias", types.GlobalFlags{Profile: "default", OutputFormat: "table", JSON: true}, types.OutputFormatJSON, false},
		{"case folded", types.GlobalFlags{Profile: "work", OutputFormat: "JSON"}, types.OutputFormatJSON, false},
		{"unknown format", types.GlobalFlags{Profile: "default", OutputFormat: "xml"}, "", true},
		{"empty profile", types.GlobalFlags{OutputFormat: "table"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			globalFlags = tt.flags
			err := validateGlobalFlags()
			if tt.wantErr {
				if utils.ErrorCode(err) != utils.ErrCodeInvalidArgument {
					t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if globalFlags.OutputFormat != tt.want {
				t.Errorf("OutputFormat = %q, want %q", globalFlags.OutputFormat, tt.want)
			}
		})
	}
}
