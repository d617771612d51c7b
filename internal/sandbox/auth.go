package sandbox

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexbotov/mpesa/internal/keys"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingBearer = errors.New("authorization header required")
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidToken  = errors.New("invalid or expired access token")
	ErrForbidden     = errors.New("token scope does not allow this operation")
)

// Token scopes
const (
	ScopeB2C   = "b2c"
	ScopeAdmin = "admin"
)

// Authentication methods reported on a Principal
const (
	MethodRSA         = "rsa"
	MethodAccessToken = "access_token"
)

// Principal is the authenticated caller of a request
type Principal struct {
	Subject string
	Scope   string
	Method  string
}

// Authenticator verifies bearer credentials the way the vendor gateway does:
// either the API key encrypted under the gateway public key, or an access
// token the gateway issued earlier.
type Authenticator struct {
	privateKey *rsa.PrivateKey
	apiKeyHash []byte
	jwtSecret  []byte
	tokenTTL   time.Duration
}

// NewAuthenticator creates an authenticator for one API key
func NewAuthenticator(privateKey *rsa.PrivateKey, apiKey, jwtSecret string, tokenTTL time.Duration) (*Authenticator, error) {
	if privateKey == nil {
		return nil, errors.New("private key is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}
	return &Authenticator{
		privateKey: privateKey,
		apiKeyHash: hash,
		jwtSecret:  []byte(jwtSecret),
		tokenTTL:   tokenTTL,
	}, nil
}

// PublicKeyBody returns the gateway public key in the vendor's bare base64 form
func (a *Authenticator) PublicKeyBody() (string, error) {
	return keys.PublicKeyBody(&a.privateKey.PublicKey)
}

// IssueToken signs an access token for subject with the configured lifetime
func (a *Authenticator) IssueToken(subject, scope string) (string, time.Time, error) {
	return IssueToken(a.jwtSecret, subject, scope, a.tokenTTL, time.Now())
}

// IssueToken signs an HS256 access token. It is exported so tooling holding
// the shared secret can mint tokens without a running sandbox.
func IssueToken(secret []byte, subject, scope string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(ttl).UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"scope": scope,
		"exp":   expiresAt.Unix(),
		"iat":   now.Unix(),
	})

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// Authenticate checks a bearer credential. Access tokens are recognised by
// their JWT shape; anything else must be the encrypted API key.
func (a *Authenticator) Authenticate(bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, ErrMissingBearer
	}
	if strings.Count(bearer, ".") == 2 {
		return a.validateToken(bearer)
	}
	return a.validateEncryptedKey(bearer)
}

func (a *Authenticator) validateEncryptedKey(bearer string) (*Principal, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(bearer)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, a.privateKey, ciphertext)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword(a.apiKeyHash, plaintext); err != nil {
		return nil, ErrInvalidAPIKey
	}
	return &Principal{Subject: "api_key", Scope: ScopeB2C, Method: MethodRSA}, nil
}

func (a *Authenticator) validateToken(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	scope, _ := claims["scope"].(string)
	if scope != ScopeB2C && scope != ScopeAdmin {
		return nil, ErrInvalidToken
	}

	return &Principal{Subject: subject, Scope: scope, Method: MethodAccessToken}, nil
}

// bearerToken extracts the credential from an "Authorization: Bearer x" header
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
