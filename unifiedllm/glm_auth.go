package unifiedllm

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/openai/openai-go/option"
)

const (
	glmTokenTTL   = 210 * time.Second
	glmTokenReuse = 180 * time.Second
)

// glmSigner turns a Zhipu "id.secret" key into short-lived HS256 tokens.
// A token is reused until glmTokenReuse has passed, well inside its exp.
type glmSigner struct {
	id     string
	secret []byte
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// newGLMSigner returns nil when key is not of the form id.secret; such
// keys are sent as plain bearer tokens.
func newGLMSigner(key string) *glmSigner {
	id, secret, ok := strings.Cut(key, ".")
	if !ok || id == "" || secret == "" || strings.Contains(secret, ".") {
		return nil
	}
	return &glmSigner{id: id, secret: []byte(secret), now: time.Now}
}

// Token returns a cached token or signs a fresh one.
func (s *glmSigner) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expiry) {
		return s.token, nil
	}
	nowMs := now.UnixMilli()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"api_key":   s.id,
		"exp":       nowMs + glmTokenTTL.Milliseconds(),
		"timestamp": nowMs,
	})
	tok.Header["sign_type"] = "SIGN"
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", &ConfigurationError{SDKError: SDKError{Message: "sign GLM token", Cause: err}}
	}
	s.token = signed
	s.expiry = now.Add(glmTokenReuse)
	return signed, nil
}

// middleware replaces the bearer header with a signed token on every request.
func (s *glmSigner) middleware(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	tok, err := s.Token()
	if err != nil {
		return nil, fmt.Errorf("glm auth: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return next(req)
}

// WithGLMSigning signs requests with a JWT derived from an id.secret key.
// Other key shapes are left untouched.
func WithGLMSigning(key string) OpenAIAdapterOption {
	return func(c *openAIAdapterConfig) {
		if s := newGLMSigner(key); s != nil {
			c.requestOpts = append(c.requestOpts, option.WithMiddleware(s.middleware))
		}
	}
}
