package servicetoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T, audience string) (*Signer, *Verifier, string) {
	t.Helper()
	privatePath, publicPath := writeRSAKeyPairFiles(t)
	signer, err := NewSignerWithOptions(SignerOptions{
		PrivateKeyPath: privatePath,
		Issuer:         "console",
		TTL:            time.Minute,
	})
	require.NoError(t, err)
	verifier, err := NewVerifierWithOptions(VerifierOptions{
		PublicKeyPath:  publicPath,
		Audience:       audience,
		AllowedIssuers: []string{"console"},
		Leeway:         time.Second,
	})
	require.NoError(t, err)
	return signer, verifier, privatePath
}

func TestSignerVerifierRS256(t *testing.T) {
	signer, verifier, _ := newPair(t, AudienceChurnAPI)
	token, err := signer.Sign(AudienceChurnAPI)
	require.NoError(t, err)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "console", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestAuthorizeSetsBearer(t *testing.T) {
	signer, verifier, _ := newPair(t, AudienceChurnAPI)
	req := httptest.NewRequest("GET", "/api/churn-data", nil)
	require.NoError(t, signer.Authorize(req, AudienceChurnAPI))

	token, ok := BearerToken(req)
	require.True(t, ok)
	_, err := verifier.Verify(token)
	assert.NoError(t, err)

	var nilSigner *Signer
	plain := httptest.NewRequest("GET", "/", nil)
	assert.NoError(t, nilSigner.Authorize(plain, AudienceChurnAPI))
	assert.Empty(t, plain.Header.Get("Authorization"))
}

func TestSignerRequiresPrivateKey(t *testing.T) {
	_, err := NewSignerWithOptions(SignerOptions{Issuer: "console"})
	assert.Error(t, err)
}

func TestVerifierRejectsWrongAudience(t *testing.T) {
	signer, verifier, _ := newPair(t, AudienceChurnAPI)
	token, err := signer.Sign("other")
	require.NoError(t, err)
	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifierRejectsTokenWithoutKid(t *testing.T) {
	_, verifier, privatePath := newPair(t, AudienceChurnAPI)
	key, err := loadPrivateKey(privatePath)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    "console",
		Subject:   "console",
		Audience:  jwt.ClaimStrings{AudienceChurnAPI},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		ID:        "jti-1",
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	_, err = verifier.Verify(signed)
	assert.Error(t, err)
}

func TestParseVerifyPublicKeys(t *testing.T) {
	parsed, err := ParseVerifyPublicKeys("k1=/a.pem, k2=/b.pem")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "/a.pem", "k2": "/b.pem"}, parsed)

	_, err = ParseVerifyPublicKeys("broken")
	assert.Error(t, err)
}

func writeRSAKeyPairFiles(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dir := t.TempDir()
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(privatePath, privatePEM, 0o600))
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	require.NoError(t, os.WriteFile(publicPath, publicPEM, 0o644))
	return privatePath, publicPath
}
