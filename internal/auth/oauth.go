package auth

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"golang.org/x/oauth2"
)

const callbackPath = "/callback"

// DefaultLoginTimeout bounds the wait for the browser redirect
const DefaultLoginTimeout = 5 * time.Minute

// OAuthFlow runs one PKCE authorization code exchange. With a listener it
// serves the loopback redirect itself; without one the code is pasted in.
type OAuthFlow struct {
	config       *oauth2.Config
	listener     net.Listener
	state        string
	codeVerifier string
	codeChan     chan string
	errChan      chan error
}

// NewOAuthFlow creates a flow redirecting to redirectURL
func NewOAuthFlow(config *oauth2.Config, listener net.Listener, redirectURL string) (*OAuthFlow, error) {
	if config == nil {
		return nil, fmt.Errorf("OAuth config not set")
	}

	state, err := randomToken(base64.URLEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier, err := randomToken(base64.RawURLEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	cfg := *config
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL not set")
	}

	return &OAuthFlow{
		config:       &cfg,
		listener:     listener,
		state:        state,
		codeVerifier: verifier,
		codeChan:     make(chan string, 1),
		errChan:      make(chan error, 1),
	}, nil
}

// AuthURL returns the consent URL the user must visit
func (f *OAuthFlow) AuthURL() string {
	return f.config.AuthCodeURL(
		f.state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", codeChallengeS256(f.codeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// RedirectURL returns the redirect the flow was registered with
func (f *OAuthFlow) RedirectURL() string {
	return f.config.RedirectURL
}

// Serve answers the loopback redirect until ctx is done
func (f *OAuthFlow) Serve(ctx context.Context) {
	if f.listener == nil {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, f.handleCallback)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.Serve(f.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.fail(err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
}

func (f *OAuthFlow) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("state") != f.state {
		f.fail(fmt.Errorf("invalid state parameter"))
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		f.fail(fmt.Errorf("auth error: %s", query.Get("error")))
		http.Error(w, "No code received", http.StatusBadRequest)
		return
	}

	f.deliver(code)
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><body><h1>gdmirror is authorized</h1><p>You can close this window.</p></body></html>`)
}

// The channels hold one value; only the first outcome matters.
func (f *OAuthFlow) fail(err error) {
	select {
	case f.errChan <- err:
	default:
	}
}

func (f *OAuthFlow) deliver(code string) {
	select {
	case f.codeChan <- code:
	default:
	}
}

// WaitForCode blocks until the redirect arrives, ctx ends or timeout passes
func (f *OAuthFlow) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case code := <-f.codeChan:
		return code, nil
	case err := <-f.errChan:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("authentication timed out")
	}
}

// ExchangeCode exchanges the authorization code for tokens
func (f *OAuthFlow) ExchangeCode(ctx context.Context, code string) (*types.Credentials, error) {
	token, err := f.config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", f.codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return tokenCredentials(token, f.config.Scopes), nil
}

// Close releases the loopback listener
func (f *OAuthFlow) Close() {
	if f.listener != nil {
		_ = f.listener.Close()
	}
}

func randomToken(enc *base64.Encoding) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return enc.EncodeToString(b), nil
}

func codeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// extractCode accepts either a bare code or the whole redirected URL
func extractCode(input string) string {
	input = strings.TrimSpace(input)
	if u, err := url.Parse(input); err == nil && u.Scheme != "" {
		if code := u.Query().Get("code"); code != "" {
			return code
		}
	}
	return input
}

// LoginOptions controls the interactive login
type LoginOptions struct {
	NoBrowser   bool
	Timeout     time.Duration
	OpenBrowser func(string) error
	In          io.Reader // manual flow input, stdin by default
	Out         io.Writer // instructions, stderr by default
}

// Authenticate performs the full OAuth flow and stores the result under profile
func (m *Manager) Authenticate(ctx context.Context, profile string, opts LoginOptions) (*types.Credentials, error) {
	if m.oauthConfig == nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthClientMissing,
			"OAuth client not configured").Build())
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLoginTimeout
	}

	ctx = m.clientContext(ctx)

	var (
		creds *types.Credentials
		err   error
	)
	if opts.NoBrowser || opts.OpenBrowser == nil || isHeadlessEnv() {
		creds, err = m.manualLogin(ctx, opts)
	} else {
		creds, err = m.loopbackLogin(ctx, opts)
	}
	if err != nil {
		return nil, err
	}

	if err := m.SaveCredentials(profile, creds); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return creds, nil
}

func (m *Manager) loopbackLogin(ctx context.Context, opts LoginOptions) (*types.Credentials, error) {
	flow, err := newLoopbackFlow(m.oauthConfig)
	if err != nil {
		m.logger.Debug("Loopback listener unavailable, using manual flow")
		return m.manualLogin(ctx, opts)
	}
	defer flow.Close()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	flow.Serve(serveCtx)

	authURL := flow.AuthURL()
	fmt.Fprintf(opts.Out, "Opening browser for authentication...\n")
	fmt.Fprintf(opts.Out, "If the browser does not open, visit:\n%s\n", authURL)
	if err := opts.OpenBrowser(authURL); err != nil {
		fmt.Fprintf(opts.Out, "Failed to open browser: %v\n", err)
		cancel()
		flow.Close()
		return m.manualLogin(ctx, opts)
	}

	code, err := flow.WaitForCode(ctx, opts.Timeout)
	if err != nil {
		return nil, err
	}
	return flow.ExchangeCode(ctx, code)
}

func (m *Manager) manualLogin(ctx context.Context, opts LoginOptions) (*types.Credentials, error) {
	flow, err := newManualFlow(m.oauthConfig)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(opts.Out, "Open this URL in a browser and approve access:\n%s\n", flow.AuthURL())
	fmt.Fprintf(opts.Out, "The browser is then sent to %s, which will fail to load.\n", flow.RedirectURL())
	fmt.Fprint(opts.Out, "Paste that address (or its code parameter) here: ")

	line, err := bufio.NewReader(opts.In).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}
	code := extractCode(line)
	if code == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"No authorization code entered").Build())
	}
	return flow.ExchangeCode(ctx, code)
}

func newLoopbackFlow(config *oauth2.Config) (*OAuthFlow, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start local server: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	flow, err := NewOAuthFlow(config, listener, loopbackRedirect(port))
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	return flow, nil
}

func newManualFlow(config *oauth2.Config) (*OAuthFlow, error) {
	return NewOAuthFlow(config, nil, loopbackRedirect(pickManualPort()))
}

func loopbackRedirect(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, callbackPath)
}

func pickManualPort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err == nil {
		port := listener.Addr().(*net.TCPAddr).Port
		_ = listener.Close()
		return port
	}
	return 8765
}

func isHeadlessEnv() bool {
	if os.Getenv("GDMIRROR_NO_BROWSER") != "" {
		return true
	}
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return true
	}
	if os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != "" {
		return true
	}
	if runtime.GOOS == "linux" && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return true
	}
	return false
}
