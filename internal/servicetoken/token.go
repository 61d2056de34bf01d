// Package servicetoken issues and checks the short-lived RS256 tokens the
// console presents to the churn API.
package servicetoken

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenTTL is the lifetime of a signed token.
	DefaultTokenTTL = 60 * time.Second
	// DefaultLeeway is clock skew tolerance for validation.
	DefaultLeeway = 15 * time.Second
	// DefaultKeyID is the kid header used when none is configured.
	DefaultKeyID = "churnboard-active"
	// AudienceChurnAPI is the audience of tokens accepted by the churn API.
	AudienceChurnAPI = "churn-api"
)

// Signer issues short-lived service JWTs.
type Signer struct {
	issuer string
	ttl    time.Duration
	key    *rsa.PrivateKey
	kid    string
}

// SignerOptions configures token signing.
type SignerOptions struct {
	PrivateKeyPath string
	KeyID          string
	Issuer         string
	TTL            time.Duration
}

// NewSignerWithOptions creates an RS256 signer.
func NewSignerWithOptions(opts SignerOptions) (*Signer, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	path := strings.TrimSpace(opts.PrivateKeyPath)
	if path == "" {
		return nil, errors.New("service token private key path is required")
	}
	key, err := loadPrivateKey(path)
	if err != nil {
		return nil, fmt.Errorf("load service token private key: %w", err)
	}
	s := &Signer{issuer: issuer, ttl: opts.TTL, key: key, kid: strings.TrimSpace(opts.KeyID)}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.kid == "" {
		s.kid = DefaultKeyID
	}
	return s, nil
}

// Sign issues a token for audience.
func (s *Signer) Sign(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("service token audience is required")
	}
	now := time.Now().UTC()
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	})
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// Authorize signs a token for audience and sets it as the request bearer.
// A nil signer leaves the request untouched.
func (s *Signer) Authorize(req *http.Request, audience string) error {
	if s == nil {
		return nil
	}
	token, err := s.Sign(audience)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Verifier validates service JWTs against audience and an issuer allowlist.
type Verifier struct {
	audience string
	issuers  map[string]struct{}
	leeway   time.Duration
	keys     map[string]*rsa.PublicKey
}

// VerifierOptions configures verification. VerifyPublicKeyMap adds extra
// kid -> PEM path entries for key rotation.
type VerifierOptions struct {
	PublicKeyPath      string
	VerifyPublicKeyMap map[string]string
	DefaultKeyID       string
	Audience           string
	AllowedIssuers     []string
	Leeway             time.Duration
}

// NewVerifierWithOptions creates a verifier from RSA public keys.
func NewVerifierWithOptions(opts VerifierOptions) (*Verifier, error) {
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		return nil, errors.New("service token audience is required")
	}
	v := &Verifier{
		audience: audience,
		issuers:  make(map[string]struct{}),
		leeway:   opts.Leeway,
		keys:     make(map[string]*rsa.PublicKey),
	}
	for _, issuer := range opts.AllowedIssuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuers[issuer] = struct{}{}
		}
	}
	if len(v.issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	if v.leeway <= 0 {
		v.leeway = DefaultLeeway
	}

	paths := make(map[string]string, len(opts.VerifyPublicKeyMap)+1)
	if path := strings.TrimSpace(opts.PublicKeyPath); path != "" {
		kid := strings.TrimSpace(opts.DefaultKeyID)
		if kid == "" {
			kid = DefaultKeyID
		}
		paths[kid] = path
	}
	for kid, path := range opts.VerifyPublicKeyMap {
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if kid != "" && path != "" {
			paths[kid] = path
		}
	}
	for kid, path := range paths {
		pub, err := loadPublicKey(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		v.keys[kid] = pub
	}
	if len(v.keys) == 0 {
		return nil, errors.New("service token verifier requires an rsa public key")
	}
	return v, nil
}

// Verify validates signature, expiry, audience, and issuer.
func (v *Verifier) Verify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("token required")
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, v.keyFor,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	if _, ok := v.issuers[claims.Issuer]; !ok {
		return claims, errors.New("issuer not allowed")
	}
	if claims.ID == "" || strings.TrimSpace(claims.Subject) == "" {
		return claims, errors.New("jti and subject required")
	}
	return claims, nil
}

func (v *Verifier) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, errors.New("token key id required")
	}
	pub, ok := v.keys[kid]
	if !ok {
		return nil, errors.New("unknown token key")
	}
	return pub, nil
}

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(raw, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, path, ok := strings.Cut(pair, "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid verify key entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	return block, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	anyKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := anyKey.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return key, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	var anyKey any
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		anyKey = pub
	} else {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, certErr
		}
		anyKey = cert.PublicKey
	}
	pub, ok := anyKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not rsa")
	}
	return pub, nil
}
