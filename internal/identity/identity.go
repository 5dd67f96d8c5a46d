package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt"

	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

var (
	ErrInvalidFormat       = errors.New("credential has invalid format")
	ErrMalformed           = errors.New("credential is malformed")
	ErrRevoked             = errors.New("credential is revoked")
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")
)

// Verifier validates a bearer credential and resolves the user it belongs to.
type Verifier interface {
	Verify(ctx context.Context, credential string) (types.UserProfile, error)
}

// positiveCacheTTL bounds how long a successful verification may be reused.
// Negative results are never cached.
const positiveCacheTTL = 60 * time.Second

type cachedIdentity struct {
	profile   types.UserProfile
	expiresAt time.Time
}

// HTTPVerifier delegates verification to the external identity provider.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	cache map[string]cachedIdentity
}

func NewHTTPVerifier(baseURL string, timeout time.Duration) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   make(map[string]cachedIdentity),
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, credential string) (types.UserProfile, error) {
	if err := checkFormat(credential); err != nil {
		return types.UserProfile{}, err
	}

	fp := fingerprint(credential)
	if profile, ok := v.cached(fp); ok {
		return profile, nil
	}

	profile, err := v.verifyUpstream(ctx, credential)
	if err != nil {
		return types.UserProfile{}, err
	}

	v.mu.Lock()
	v.cache[fp] = cachedIdentity{profile: profile, expiresAt: time.Now().Add(positiveCacheTTL)}
	v.mu.Unlock()

	return profile, nil
}

func (v *HTTPVerifier) cached(fp string) (types.UserProfile, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.cache[fp]
	if !ok {
		return types.UserProfile{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(v.cache, fp)
		return types.UserProfile{}, false
	}
	return entry.profile, true
}

func (v *HTTPVerifier) verifyUpstream(ctx context.Context, credential string) (types.UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/users/me", nil)
	if err != nil {
		return types.UserProfile{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return types.UserProfile{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.UserProfile{}, ErrRevoked
	default:
		return types.UserProfile{}, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.UserProfile{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	var profile types.UserProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return types.UserProfile{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if profile.ID == 0 {
		return types.UserProfile{}, ErrRevoked
	}

	return profile, nil
}

// checkFormat rejects credentials that cannot possibly be valid before any
// upstream round trip: three non-empty dot-separated segments that parse
// structurally as a token.
func checkFormat(credential string) error {
	if credential == "" {
		return ErrInvalidFormat
	}
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return ErrInvalidFormat
	}
	for _, p := range parts {
		if p == "" {
			return ErrInvalidFormat
		}
	}

	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(credential, jwt.MapClaims{}); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
