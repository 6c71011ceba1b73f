package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultClientID is sent with token requests when none is configured.
const DefaultClientID = "stampclock-cli"

// TokenFilePath returns the path of the stored session token under base.
func TokenFilePath(base string) string {
	return filepath.Join(base, "auth", "token.json")
}

// oauth2Config returns the password/refresh grant configuration for the
// backend's token endpoint.
func oauth2Config(baseURL, clientID string) *oauth2.Config {
	if clientID == "" {
		clientID = DefaultClientID
	}
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(baseURL, "/") + "/auth/v1/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// loadToken loads a previously saved token from disk. A missing file yields
// (nil, nil).
func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("corrupt token file (delete %s to sign in again): %w", path, err)
	}
	return &tok, nil
}

// saveToken persists a token to disk.
func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating auth directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving token file: %w", err)
	}
	return nil
}

// Auth manages the signed-in session. It is an oauth2.TokenSource that
// loads the stored token lazily, refreshes it when expired and persists
// refreshed tokens.
type Auth struct {
	cfg        *oauth2.Config
	tokenPath  string
	httpClient *http.Client
	logger     *slog.Logger

	mu  sync.Mutex
	tok *oauth2.Token
}

// NewAuth returns an Auth for the backend at baseURL. httpClient is used for
// token requests; nil means http.DefaultClient.
func NewAuth(baseURL, clientID, tokenPath string, httpClient *http.Client, logger *slog.Logger) *Auth {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{
		cfg:        oauth2Config(baseURL, clientID),
		tokenPath:  tokenPath,
		httpClient: httpClient,
		logger:     logger.With("component", "auth"),
	}
}

func (a *Auth) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// Login exchanges email and password for a token and stores it.
func (a *Auth) Login(ctx context.Context, email, password string) error {
	tok, err := a.cfg.PasswordCredentialsToken(a.oauthContext(ctx), email, password)
	if err != nil {
		return classify("sign in", err)
	}
	if _, err := subject(tok); err != nil {
		return &RemoteError{Op: "sign in", Message: err.Error(), Err: ErrNotAuthenticated}
	}
	if err := saveToken(a.tokenPath, tok); err != nil {
		return err
	}
	a.mu.Lock()
	a.tok = tok
	a.mu.Unlock()
	return nil
}

// Logout forgets the stored token.
func (a *Auth) Logout() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tok = nil
	if err := os.Remove(a.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

// stored returns the cached or on-disk token without refreshing it.
func (a *Auth) stored() (*oauth2.Token, error) {
	if a.tok != nil {
		return a.tok, nil
	}
	tok, err := loadToken(a.tokenPath)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}
	a.tok = tok
	return tok, nil
}

// Token implements oauth2.TokenSource.
func (a *Auth) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tok, err := a.stored()
	if err != nil {
		return nil, err
	}
	if tok.Valid() {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}

	refreshed, err := a.cfg.TokenSource(a.oauthContext(context.Background()), tok).Token()
	if err != nil {
		return nil, err
	}
	a.tok = refreshed
	if err := saveToken(a.tokenPath, refreshed); err != nil {
		a.logger.Warn("could not save refreshed token", "error", err)
	}
	return refreshed, nil
}

// OwnerID reads the user id from the stored access token. It never touches
// the network, so it also works while offline with an expired token.
func (a *Auth) OwnerID(_ context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tok, err := a.stored()
	if err != nil {
		return "", err
	}
	return subject(tok)
}

// subject extracts the "sub" claim without verifying the signature; the
// backend verifies every request.
func subject(tok *oauth2.Token) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err != nil {
		return "", fmt.Errorf("%w: unreadable access token: %v", ErrNotAuthenticated, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: access token has no subject", ErrNotAuthenticated)
	}
	return sub, nil
}

// classify maps transport-level failures onto the error kinds of this package.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, context.Canceled) {
		return err
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if unreachableStatus(status) {
			return &NetworkError{Op: op, Err: err}
		}
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		if msg == "" {
			msg = strings.TrimSpace(string(re.Body))
		}
		return &RemoteError{Op: op, Status: status, Message: msg, Err: ErrNotAuthenticated}
	}
	return &NetworkError{Op: op, Err: err}
}
