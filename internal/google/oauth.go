// Package google connects the assistant to Google Calendar and Gmail.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// ErrNotAuthorized means no OAuth token has been stored yet.
var ErrNotAuthorized = errors.New("google account not authorized")

// Authenticator runs the installed-app OAuth flow and persists the token.
type Authenticator struct {
	config    *oauth2.Config
	tokenFile string
	logger    *zap.Logger
}

// NewAuthenticator reads the OAuth client credentials downloaded from the
// Google Cloud console.
func NewAuthenticator(credentialsFile, tokenFile string, logger *zap.Logger) (*Authenticator, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	config, err := googleoauth.ConfigFromJSON(data, calendar.CalendarScope, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return newAuthenticator(config, tokenFile, logger), nil
}

func newAuthenticator(config *oauth2.Config, tokenFile string, logger *zap.Logger) *Authenticator {
	return &Authenticator{config: config, tokenFile: tokenFile, logger: logger}
}

// AuthURL is the consent page the user opens to obtain an authorization code.
func (a *Authenticator) AuthURL() string {
	return a.config.AuthCodeURL("assistant", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (a *Authenticator) Exchange(ctx context.Context, code string) error {
	tok, err := a.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := a.saveToken(tok); err != nil {
		return err
	}
	a.logger.Info("Google account authorized")
	return nil
}

// Authorized reports whether a token is stored.
func (a *Authenticator) Authorized() bool {
	_, err := a.loadToken()
	return err == nil
}

// Client returns an HTTP client that refreshes the stored token as needed
// and writes refreshed tokens back to disk.
func (a *Authenticator) Client(ctx context.Context) (*http.Client, error) {
	tok, err := a.loadToken()
	if err != nil {
		return nil, err
	}
	src := &savingTokenSource{
		base: a.config.TokenSource(ctx, tok),
		last: tok,
		save: a.saveToken,
		log:  a.logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

func (a *Authenticator) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	return &tok, nil
}

func (a *Authenticator) saveToken(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if dir := filepath.Dir(a.tokenFile); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}
	if err := os.WriteFile(a.tokenFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

type savingTokenSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	last *oauth2.Token
	save func(*oauth2.Token) error
	log  *zap.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		if err := s.save(tok); err != nil {
			s.log.Warn("Failed to persist refreshed token", zap.Error(err))
		}
		s.last = tok
	}
	return tok, nil
}
