package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dl-alexandre/gdmirror/internal/api"
	"github.com/dl-alexandre/gdmirror/internal/auth"
	"github.com/dl-alexandre/gdmirror/internal/config"
	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
)

// session bundles what a Drive command needs
type session struct {
	flags  types.GlobalFlags
	client *api.Client
	reqCtx *types.RequestContext
	out    *OutputWriter
}

// newAuthManager builds an auth manager wired to the debug transport
func newAuthManager() (*auth.Manager, error) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).Build())
	}

	opts := auth.ManagerOptions{Logger: logger}
	if debugTransport != nil {
		opts.Transport = debugTransport
	}
	return auth.NewManagerWithOptions(configDir, opts), nil
}

// loadClientSecrets configures the OAuth client from the secrets file.
// Refreshing a token needs the client as much as logging in does.
func loadClientSecrets(mgr *auth.Manager, path string) error {
	if path == "" {
		var err error
		if path, err = appConfig.GetClientSecretsPath(); err != nil {
			return err
		}
	}
	return mgr.LoadClientSecrets(path, utils.DefaultScopes)
}

// newSession authenticates and returns a ready Drive client
func newSession(ctx context.Context, requestType types.RequestType) (*session, error) {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	authMgr, err := newAuthManager()
	if err != nil {
		return nil, err
	}
	if err := loadClientSecrets(authMgr, ""); err != nil {
		logger.Debug("OAuth client unavailable, tokens cannot be refreshed", logFieldErr(err))
	}

	creds, err := authMgr.GetValidCredentials(ctx, flags.Profile)
	if err != nil {
		return nil, err
	}

	service, err := authMgr.NewDriveService(ctx, creds)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(service, api.RetryPolicy{
		MaxRetries: appConfig.MaxRetries,
		BaseDelay:  appConfig.GetRetryBaseDelay(),
		MaxDelay:   appConfig.GetRetryMaxDelay(),
	}, logger)

	keysPath := filepath.Join(authMgr.ConfigDir(), "resource_keys.json")
	if err := client.ResourceKeys().SetCachePath(keysPath); err != nil {
		logger.Warn("Resource key cache unreadable", logFieldErr(err))
	}

	reqCtx := api.NewRequestContext(flags.Profile, flags.DriveID, requestType)
	out.SetTraceID(reqCtx.TraceID)

	return &session{
		flags:  flags,
		client: client,
		reqCtx: reqCtx,
		out:    out,
	}, nil
}

// withTimeout applies the configured per-command timeout
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := appConfig.GetRequestTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// resolveFileID accepts a bare ID or a Drive sharing URL. Resource keys
// found in URLs are remembered for later requests.
func (s *session) resolveFileID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "file ID must not be empty").Build())
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	fileID, resourceKey, ok := s.client.ResourceKeys().ParseFromURL(input)
	if !ok {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("cannot find a file ID in %s", input)).Build())
	}
	if resourceKey != "" {
		s.client.ResourceKeys().AddKey(fileID, resourceKey, "url")
	}
	return fileID, nil
}

func logFieldErr(err error) logging.Field {
	return logging.F("error", err.Error())
}
