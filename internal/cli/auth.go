package cli

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/dl-alexandre/gdmirror/internal/auth"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Manage authentication with the Google Drive API",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with Google Drive",
	Long: `Run the OAuth2 flow with the client secrets in credentials.json
(a Google "installed application" client) and store the resulting token
for the selected profile.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List credential profiles",
	Args:  cobra.NoArgs,
	RunE:  runAuthProfiles,
}

var (
	authNoBrowser     bool
	authClientSecrets string
	authTimeout       time.Duration
)

func init() {
	authLoginCmd.Flags().BoolVar(&authNoBrowser, "no-browser", false, "Print the consent URL and read the code from stdin")
	authLoginCmd.Flags().StringVar(&authClientSecrets, "client-secrets", "", "Path to the OAuth client secrets file")
	authLoginCmd.Flags().DurationVar(&authTimeout, "timeout", auth.DefaultLoginTimeout, "How long to wait for the browser redirect")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authProfilesCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr, err := newAuthManager()
	if err != nil {
		return err
	}
	if warning := mgr.StorageWarning(); warning != "" {
		out.Log("%s", warning)
	}
	if err := loadClientSecrets(mgr, authClientSecrets); err != nil {
		return err
	}

	creds, err := mgr.Authenticate(cmd.Context(), flags.Profile, auth.LoginOptions{
		NoBrowser:   authNoBrowser,
		Timeout:     authTimeout,
		OpenBrowser: openBrowser,
		In:          cmd.InOrStdin(),
	})
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired, err.Error()).Build())
	}

	out.Log("Successfully authenticated!")
	return out.WriteSuccess("auth.login", map[string]interface{}{
		"profile":        flags.Profile,
		"scopes":         creds.Scopes,
		"expiry":         creds.ExpiryDate.Format(time.RFC3339),
		"storageBackend": mgr.StorageBackend(),
	})
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr, err := newAuthManager()
	if err != nil {
		return err
	}

	if err := mgr.DeleteCredentials(flags.Profile); err != nil {
		if errors.Is(err, auth.ErrNoCredentials) {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
				fmt.Sprintf("No credentials found for profile '%s'", flags.Profile)).Build())
		}
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError,
			fmt.Sprintf("Failed to remove credentials: %v", err)).Build())
	}

	out.Log("Credentials removed for profile: %s", flags.Profile)
	return out.WriteSuccess("auth.logout", map[string]interface{}{
		"profile": flags.Profile,
		"status":  "logged_out",
	})
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr, err := newAuthManager()
	if err != nil {
		return err
	}
	if warning := mgr.StorageWarning(); warning != "" {
		out.Verbose("%s", warning)
	}

	creds, err := mgr.LoadCredentials(flags.Profile)
	if err != nil {
		return out.WriteSuccess("auth.status", map[string]interface{}{
			"profile":        flags.Profile,
			"authenticated":  false,
			"storageBackend": mgr.StorageBackend(),
		})
	}

	return out.WriteSuccess("auth.status", map[string]interface{}{
		"profile":        flags.Profile,
		"authenticated":  true,
		"scopes":         creds.Scopes,
		"expiry":         creds.ExpiryDate.Format(time.RFC3339),
		"expired":        time.Now().After(creds.ExpiryDate),
		"needsRefresh":   mgr.NeedsRefresh(creds),
		"canRefresh":     creds.RefreshToken != "",
		"storageBackend": mgr.StorageBackend(),
	})
}

func runAuthProfiles(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr, err := newAuthManager()
	if err != nil {
		return err
	}

	profiles, err := mgr.ListProfiles()
	if err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError,
			fmt.Sprintf("Failed to list profiles: %v", err)).Build())
	}

	details := make([]map[string]interface{}, 0, len(profiles))
	for _, profile := range profiles {
		detail := map[string]interface{}{"profile": profile}
		if creds, err := mgr.LoadCredentials(profile); err == nil {
			detail["authenticated"] = true
			detail["expiry"] = creds.ExpiryDate.Format(time.RFC3339)
			detail["needsRefresh"] = mgr.NeedsRefresh(creds)
		} else {
			detail["authenticated"] = false
			detail["error"] = err.Error()
		}
		details = append(details, detail)
	}

	return out.WriteSuccess("auth.profiles", map[string]interface{}{
		"profiles":       details,
		"count":          len(profiles),
		"storageBackend": mgr.StorageBackend(),
	})
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}
