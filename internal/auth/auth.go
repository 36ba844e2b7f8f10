package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

var (
	ErrMissingAPIKey    = errors.New("missing authorization header")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrMissingProjectID = errors.New("missing x-project-id header")
	ErrAuthUnavailable  = errors.New("auth backend unavailable")
)

const (
	ModeEnforce = "enforce"
	ModeShadow  = "shadow"

	// KeyPrefix starts every agent API key.
	KeyPrefix = "tsk_"

	// lookupPrefixLen is how much of the key is stored in clear for lookup.
	lookupPrefixLen = 8
)

// ProjectContext is what an agent's credentials resolve to.
type ProjectContext struct {
	ProjectID string
	Mode      string // "enforce" or "shadow"
	FailOpen  bool
}

// Shadow reports whether block verdicts for this project are only recorded.
func (p *ProjectContext) Shadow() bool {
	return p != nil && p.Mode == ModeShadow
}

// Credentials are the raw values an agent presents with each call.
type Credentials struct {
	APIKey    string
	ProjectID string
}

// Authenticator resolves credentials into a project.
type Authenticator interface {
	Verify(ctx context.Context, creds Credentials) (*ProjectContext, error)
}

// Authenticate reads credentials from incoming gRPC metadata and verifies them.
func Authenticate(ctx context.Context, a Authenticator) (*ProjectContext, error) {
	creds, err := CredentialsFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return a.Verify(ctx, creds)
}

// CredentialsFromMetadata extracts "authorization" and "x-project-id" from
// incoming gRPC metadata.
func CredentialsFromMetadata(ctx context.Context) (Credentials, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Credentials{}, ErrMissingAPIKey
	}
	authValues := md.Get("authorization")
	if len(authValues) == 0 {
		return Credentials{}, ErrMissingAPIKey
	}
	key, err := ParseBearer(authValues[0])
	if err != nil {
		return Credentials{}, err
	}
	creds := Credentials{APIKey: key}
	if v := md.Get("x-project-id"); len(v) > 0 {
		creds.ProjectID = v[0]
	}
	return creds, nil
}

// CredentialsFromRequest extracts the same credentials from HTTP headers.
func CredentialsFromRequest(r *http.Request) (Credentials, error) {
	key, err := ParseBearer(r.Header.Get("Authorization"))
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{APIKey: key, ProjectID: r.Header.Get("X-Project-Id")}, nil
}

// ParseBearer strips the bearer scheme and checks the key format.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAPIKey
	}
	token := header
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, KeyPrefix) {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// StaticAuthenticator accepts any well-formed key and trusts the caller's
// x-project-id, falling back to a configured default. Development only.
type StaticAuthenticator struct {
	defaultProject string
	mode           string
}

// NewStaticAuthenticator creates a static authenticator. An empty
// defaultProject makes x-project-id mandatory.
func NewStaticAuthenticator(defaultProject, mode string) *StaticAuthenticator {
	if mode != ModeShadow {
		mode = ModeEnforce
	}
	return &StaticAuthenticator{defaultProject: defaultProject, mode: mode}
}

func (a *StaticAuthenticator) Verify(_ context.Context, creds Credentials) (*ProjectContext, error) {
	if !strings.HasPrefix(creds.APIKey, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}
	projectID := creds.ProjectID
	if projectID == "" {
		projectID = a.defaultProject
	}
	if projectID == "" {
		return nil, ErrMissingProjectID
	}
	return &ProjectContext{
		ProjectID: projectID,
		Mode:      a.mode,
		FailOpen:  true,
	}, nil
}
