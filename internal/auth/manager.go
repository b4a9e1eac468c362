package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/dl-alexandre/gdmirror/pkg/version"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	serviceName        = "gdmirror"
	tokenRefreshBuffer = 5 * time.Minute
)

// Manager handles authentication operations
type Manager struct {
	configDir      string
	useKeyring     bool
	storage        StorageBackend
	oauthConfig    *oauth2.Config
	transport      http.RoundTripper
	logger         logging.Logger
	storageWarning string
}

// ManagerOptions configures the auth manager
type ManagerOptions struct {
	ForceFileStorage bool // skip the system keyring
	// Transport, when set, carries every token and Drive request. The CLI
	// installs a logging.DebugTransport here under --debug.
	Transport http.RoundTripper
	Logger    logging.Logger
}

// NewManager creates a new auth manager
func NewManager(configDir string) *Manager {
	return NewManagerWithOptions(configDir, ManagerOptions{})
}

// NewManagerWithOptions creates a new auth manager with specific options
func NewManagerWithOptions(configDir string, opts ManagerOptions) *Manager {
	mgr := &Manager{
		configDir: configDir,
		transport: opts.Transport,
		logger:    opts.Logger,
	}
	if mgr.logger == nil {
		mgr.logger = logging.NewNoOpLogger()
	}

	if !opts.ForceFileStorage && checkKeyringAvailable() {
		mgr.storage = NewKeyringStorage(serviceName)
		mgr.useKeyring = true
		return mgr
	}

	storage, err := NewFileStorage(configDir)
	if err != nil {
		// Without a key the credentials cannot be kept anywhere safe
		mgr.storage = unavailableStorage{err: err}
		mgr.storageWarning = fmt.Sprintf("WARNING: credential storage unavailable: %v", err)
		return mgr
	}
	mgr.storage = storage
	if !opts.ForceFileStorage {
		mgr.storageWarning = "INFO: System keyring not available. Using encrypted file storage."
	}
	return mgr
}

// checkKeyringAvailable tests if system keyring is available
func checkKeyringAvailable() bool {
	testKey := serviceName + "-probe"
	if err := keyring.Set(serviceName, testKey, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey)
	return true
}

// LoadClientSecrets reads a Google "installed" client secrets file and
// configures the OAuth flow with the given scopes.
func (m *Manager) LoadClientSecrets(path string, scopes []string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthClientMissing,
				fmt.Sprintf("OAuth client secrets not found at %s", path)).
				WithContext("path", path).Build())
		}
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthClientMissing,
			fmt.Sprintf("Cannot read OAuth client secrets: %v", err)).
			WithContext("path", path).Build())
	}

	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthClientInvalid,
			fmt.Sprintf("Invalid OAuth client secrets: %v", err)).
			WithContext("path", path).Build())
	}
	m.oauthConfig = cfg
	return nil
}

// SetOAuthConfig replaces the OAuth2 configuration
func (m *Manager) SetOAuthConfig(cfg *oauth2.Config) {
	m.oauthConfig = cfg
}

// OAuthConfig returns the current OAuth2 configuration
func (m *Manager) OAuthConfig() *oauth2.Config {
	return m.oauthConfig
}

// LoadCredentials loads stored credentials for a profile
func (m *Manager) LoadCredentials(profile string) (*types.Credentials, error) {
	data, err := m.storage.Load(profile)
	if err != nil {
		return nil, err
	}

	var stored types.StoredCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339, stored.ExpiryDate)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry date: %w", err)
	}

	return &types.Credentials{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		ExpiryDate:   expiry,
		Scopes:       stored.Scopes,
		Type:         stored.Type,
	}, nil
}

// SaveCredentials saves credentials for a profile
func (m *Manager) SaveCredentials(profile string, creds *types.Credentials) error {
	stored := types.StoredCredentials{
		Profile:      profile,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		ExpiryDate:   creds.ExpiryDate.UTC().Format(time.RFC3339),
		Scopes:       creds.Scopes,
		Type:         creds.Type,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := m.storage.Save(profile, data); err != nil {
		return err
	}

	if err := m.addProfileToList(profile); err != nil {
		m.logger.Warn("Failed to update profile list", logging.F("profile", profile), logging.F("error", err.Error()))
	}
	return nil
}

// DeleteCredentials removes credentials for a profile
func (m *Manager) DeleteCredentials(profile string) error {
	if err := m.storage.Delete(profile); err != nil {
		return err
	}

	if err := m.removeProfileFromList(profile); err != nil {
		m.logger.Warn("Failed to update profile list", logging.F("profile", profile), logging.F("error", err.Error()))
	}
	return nil
}

// NeedsRefresh checks if credentials expire within the refresh buffer
func (m *Manager) NeedsRefresh(creds *types.Credentials) bool {
	return time.Now().Add(tokenRefreshBuffer).After(creds.ExpiryDate)
}

// RefreshCredentials exchanges the refresh token for a new access token
func (m *Manager) RefreshCredentials(ctx context.Context, creds *types.Credentials) (*types.Credentials, error) {
	if m.oauthConfig == nil {
		return nil, fmt.Errorf("OAuth config not set")
	}
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored")
	}

	// An expired token forces the source to hit the token endpoint
	token := credentialsToken(creds)
	token.Expiry = time.Now().Add(-time.Minute)

	newToken, err := m.oauthConfig.TokenSource(m.clientContext(ctx), token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	return tokenCredentials(newToken, creds.Scopes), nil
}

// GetValidCredentials returns valid credentials, refreshing if necessary
func (m *Manager) GetValidCredentials(ctx context.Context, profile string) (*types.Credentials, error) {
	creds, err := m.LoadCredentials(profile)
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) {
			m.logger.Warn("Stored credentials unreadable", logging.F("profile", profile), logging.F("error", err.Error()))
		}
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			"No credentials found. Run 'gdmirror auth login' first.").
			WithContext("profile", profile).Build())
	}

	if !m.NeedsRefresh(creds) {
		return creds, nil
	}

	refreshed, err := m.RefreshCredentials(ctx, creds)
	if err != nil {
		m.logger.Debug("Token refresh failed", logging.F("profile", profile), logging.F("error", err.Error()))
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthExpired,
			"Token refresh failed. Run 'gdmirror auth login' to re-authenticate.").
			WithContext("profile", profile).Build())
	}
	if err := m.SaveCredentials(profile, refreshed); err != nil {
		return nil, fmt.Errorf("failed to save refreshed credentials: %w", err)
	}
	return refreshed, nil
}

// GetHTTPClient returns an HTTP client that authorizes requests and keeps
// the token fresh.
func (m *Manager) GetHTTPClient(ctx context.Context, creds *types.Credentials) *http.Client {
	ctx = m.clientContext(ctx)
	token := credentialsToken(creds)
	if m.oauthConfig == nil {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	}
	return m.oauthConfig.Client(ctx, token)
}

// NewDriveService builds a Drive client for the given credentials
func (m *Manager) NewDriveService(ctx context.Context, creds *types.Credentials) (*drive.Service, error) {
	svc, err := drive.NewService(ctx, option.WithHTTPClient(m.GetHTTPClient(ctx, creds)))
	if err != nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError,
			fmt.Sprintf("Failed to create Drive service: %v", err)).Build())
	}
	svc.UserAgent = version.UserAgent()
	return svc, nil
}

// clientContext makes the oauth2 package use the configured transport
func (m *Manager) clientContext(ctx context.Context) context.Context {
	if m.transport == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: m.transport})
}

// UseKeyring returns whether the manager is using the system keyring
func (m *Manager) UseKeyring() bool {
	return m.useKeyring
}

// ConfigDir returns the configuration directory
func (m *Manager) ConfigDir() string {
	return m.configDir
}

// StorageBackend returns the name of the storage backend in use
func (m *Manager) StorageBackend() string {
	return m.storage.Name()
}

// StorageWarning returns any warning about the storage backend
func (m *Manager) StorageWarning() string {
	return m.storageWarning
}

func credentialsToken(creds *types.Credentials) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Expiry:       creds.ExpiryDate,
	}
}

func tokenCredentials(token *oauth2.Token, scopes []string) *types.Credentials {
	return &types.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiryDate:   token.Expiry,
		Scopes:       scopes,
		Type:         types.AuthTypeOAuth,
	}
}

type unavailableStorage struct{ err error }

func (s unavailableStorage) Save(string, []byte) error   { return s.err }
func (s unavailableStorage) Load(string) ([]byte, error) { return nil, s.err }
func (s unavailableStorage) Delete(string) error         { return s.err }
func (s unavailableStorage) Name() string                { return "unavailable" }
