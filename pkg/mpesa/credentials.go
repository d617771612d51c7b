package mpesa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"sync"
)

// CredentialSource says which derivation path produced a bearer credential.
type CredentialSource string

const (
	SourceNone        CredentialSource = ""
	SourceRSA         CredentialSource = "rsa"
	SourceAccessToken CredentialSource = "access_token"
)

const (
	publicKeyHeader = "-----BEGIN PUBLIC KEY-----"
	publicKeyFooter = "-----END PUBLIC KEY-----"
)

var (
	errMalformedPublicKey = errors.New("public key material is not a PEM public key")
	errNotRSAPublicKey    = errors.New("public key is not an RSA key")
)

// Credentials holds the secret material for one client and derives the bearer
// credential from it. It is safe for concurrent use.
//
// Derivation failures are never returned to the caller: an unparsable public
// key or a failed encryption leaves the store on the access-token path, or not
// ready at all. The vendor then rejects the request, which surfaces as a
// classified authentication error.
type Credentials struct {
	mu          sync.Mutex
	apiKey      string
	publicKey   string
	accessToken string
	derived     string
	source      CredentialSource
}

// NewCredentials creates a store from the given material. Empty strings mean
// "not set".
func NewCredentials(apiKey, publicKey, accessToken string) *Credentials {
	c := &Credentials{
		apiKey:      apiKey,
		publicKey:   publicKey,
		accessToken: accessToken,
	}
	c.refresh()
	return c
}

// SetAPIKey stores the API key and re-derives.
func (c *Credentials) SetAPIKey(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.refresh()
}

// SetPublicKey stores the vendor public key (bare base64 body, no armor) and
// re-derives.
func (c *Credentials) SetPublicKey(publicKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publicKey = publicKey
	c.refresh()
}

// SetAccessToken stores a pre-issued access token and re-derives.
func (c *Credentials) SetAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
	c.refresh()
}

// Token derives a fresh credential and returns it. The boolean is false when
// no derivation path succeeded.
func (c *Credentials) Token() (string, bool) {
	token, _, ok := c.TokenWithSource()
	return token, ok
}

// TokenWithSource is Token plus the path that produced the credential.
func (c *Credentials) TokenWithSource() (string, CredentialSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh()
	return c.derived, c.source, c.source != SourceNone
}

// Ready reports whether the last derivation produced a credential.
func (c *Credentials) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source != SourceNone
}

// refresh replaces the cached credential. Caller holds mu.
func (c *Credentials) refresh() {
	c.derived, c.source = deriveToken(c.apiKey, c.publicKey, c.accessToken, rand.Reader)
}

// DeriveToken computes the bearer credential from the given material using
// crypto/rand. The RSA path wins over the access token; the access token is
// the fallback when either half of the key pair is missing or unusable.
func DeriveToken(apiKey, publicKey, accessToken string) (string, bool) {
	token, source := deriveToken(apiKey, publicKey, accessToken, rand.Reader)
	return token, source != SourceNone
}

func deriveToken(apiKey, publicKey, accessToken string, random io.Reader) (string, CredentialSource) {
	if apiKey != "" && publicKey != "" {
		if token, err := encryptAPIKey(apiKey, publicKey, random); err == nil {
			return token, SourceRSA
		}
	}
	if accessToken != "" {
		return accessToken, SourceAccessToken
	}
	return "", SourceNone
}

// FormatPublicKey wraps bare key material in the PEM public key envelope.
func FormatPublicKey(material string) string {
	return publicKeyHeader + "\n" + material + "\n" + publicKeyFooter
}

// ParsePublicKey parses bare vendor key material as an RSA public key.
func ParsePublicKey(material string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(FormatPublicKey(material)))
	if block == nil {
		return nil, errMalformedPublicKey
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errNotRSAPublicKey
	}
	return pub, nil
}

func encryptAPIKey(apiKey, publicKey string, random io.Reader) (string, error) {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return "", err
	}
	ciphertext, err := rsa.EncryptPKCS1v15(random, pub, []byte(apiKey))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
