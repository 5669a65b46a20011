package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWKSCacheTTL = 5 * time.Minute
	jwksHTTPTimeout     = 10 * time.Second
)

// JWK is one RSA entry of a JSON Web Key Set.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the document served at a jwks_uri.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// KeySet holds the RSA keys of an identity provider. It refetches the set
// when the TTL lapses or when a token names a kid it has not seen.
type KeySet struct {
	issuer string
	ttl    time.Duration
	client *resty.Client

	mu      sync.RWMutex
	url     string
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func NewKeySet(url string, ttl time.Duration) *KeySet {
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}
	return &KeySet{
		url:    url,
		ttl:    ttl,
		client: resty.New().SetTimeout(jwksHTTPTimeout),
		keys:   map[string]*rsa.PublicKey{},
	}
}

// NewIssuerKeySet discovers the jwks_uri from the issuer's OpenID
// configuration on first use, retrying on later lookups until it succeeds.
func NewIssuerKeySet(issuer string, ttl time.Duration) *KeySet {
	ks := NewKeySet("", ttl)
	ks.issuer = issuer
	return ks
}

func (s *KeySet) jwksURL() (string, error) {
	s.mu.RLock()
	url := s.url
	s.mu.RUnlock()
	if url != "" {
		return url, nil
	}
	if s.issuer == "" {
		return "", errors.New("no jwks url or issuer configured")
	}
	url, err := discoverJWKSURL(s.client, s.issuer)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return url, nil
}

func (s *KeySet) lookup(kid string) (*rsa.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[kid]
	return key, ok && time.Since(s.fetched) <= s.ttl
}

// Key returns the public key registered under kid.
func (s *KeySet) Key(kid string) (*rsa.PublicKey, error) {
	if key, fresh := s.lookup(kid); fresh {
		return key, nil
	}
	if err := s.refresh(); err != nil {
		return nil, fmt.Errorf("refresh jwks: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("kid %q not in key set", kid)
}

func (s *KeySet) refresh() error {
	url, err := s.jwksURL()
	if err != nil {
		return err
	}
	var set JWKSet
	if err := getJSON(s.client, url, &set); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		if pub, err := k.rsaKey(); err == nil {
			keys[k.Kid] = pub
		}
	}

	s.mu.Lock()
	s.keys, s.fetched = keys, time.Now()
	s.mu.Unlock()
	return nil
}

// Keyfunc adapts the set to jwt.Parse. Tokens must carry a kid header.
func (s *KeySet) Keyfunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}
	return s.Key(kid)
}

func (k JWK) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

// getJSON decodes the body of a 200 response into v whatever content type
// the server declares.
func getJSON(client *resty.Client, url string, v interface{}) error {
	resp, err := client.R().Get(url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// discoverJWKSURL reads jwks_uri from the issuer's OpenID configuration.
func discoverJWKSURL(client *resty.Client, issuer string) (string, error) {
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	if err := getJSON(client, url, &doc); err != nil {
		return "", err
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("no jwks_uri at %s", url)
	}
	return doc.JWKSURI, nil
}
