// Package auth verifies bearer ID tokens presented to the API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

var (
	// ErrNoToken means the Authorization header is missing or not a bearer.
	ErrNoToken = errors.New("auth: no bearer token")
	// ErrInvalidToken means the token failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Identity is the verified caller.
type Identity struct {
	UID      string
	Email    string
	Provider string
	Claims   map[string]any
}

// Verifier checks an ID token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// BearerToken extracts the token from an Authorization header value. The
// header must start with "Bearer "; the token is the second space-separated
// field and may be empty.
func BearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrNoToken
	}
	fields := strings.Split(header, " ")
	return fields[1], nil
}

// FirebaseConfig selects the Firebase Admin credentials. CredentialsJSON
// wins over CredentialsFile; with neither, application default credentials
// are used.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

// tokenVerifier is the subset of *fbauth.Client used here.
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier verifies Firebase Authentication ID tokens.
type FirebaseVerifier struct {
	client tokenVerifier
}

// NewFirebaseVerifier initializes a Firebase Admin app and its auth client.
func NewFirebaseVerifier(ctx context.Context, cfg FirebaseConfig) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: init firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	tok, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	id := &Identity{
		UID:      tok.UID,
		Provider: tok.Firebase.SignInProvider,
		Claims:   tok.Claims,
	}
	if email, ok := tok.Claims["email"].(string); ok {
		id.Email = email
	}
	return id, nil
}

// StaticVerifier accepts a fixed set of tokens. For local development and
// tests only.
type StaticVerifier struct {
	tokens map[string]string // token -> uid
}

// ParseStaticTokens parses comma-separated "token" or "token:uid" entries.
// A token without a uid gets "static-user".
func ParseStaticTokens(list string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, uid, found := strings.Cut(entry, ":")
		if token == "" {
			continue
		}
		if !found || uid == "" {
			uid = "static-user"
		}
		out[token] = uid
	}
	return out
}

// NewStaticVerifier returns a verifier for the given token -> uid map.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticVerifier{tokens: cp}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	for known, uid := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return &Identity{UID: uid, Provider: "static"}, nil
		}
	}
	return nil, ErrInvalidToken
}
