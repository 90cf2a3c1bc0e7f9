package coinbase

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator signs outgoing API requests.
type Authenticator interface {
	AddAuthHeaders(req *http.Request) error
}

// JWTAuthenticator issues a short-lived ES256 token per request, bound to
// the request method, host and path.
type JWTAuthenticator struct {
	apiKeyName string
	privateKey *ecdsa.PrivateKey
	now        func() time.Time
}

func NewJWTAuthenticator(apiKeyName, privateKeyPEM string) (*JWTAuthenticator, error) {
	if _, _, err := parseAPIKeyName(apiKeyName); err != nil {
		return nil, err
	}

	// Keys copied through env vars often carry literal \n sequences.
	privateKeyPEM = strings.ReplaceAll(privateKeyPEM, `\n`, "\n")
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		var ok bool
		privateKey, ok = key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an EC private key")
		}
	}

	return &JWTAuthenticator{
		apiKeyName: apiKeyName,
		privateKey: privateKey,
		now:        time.Now,
	}, nil
}

func (j *JWTAuthenticator) AddAuthHeaders(req *http.Request) error {
	token, err := j.generateJWT(req.Method, req.URL.Host, req.URL.Path)
	if err != nil {
		return fmt.Errorf("failed to generate JWT: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (j *JWTAuthenticator) generateJWT(method, host, path string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	now := j.now()
	claims := jwt.MapClaims{
		"sub":   j.apiKeyName,
		"iss":   "cdp",
		"nbf":   now.Unix(),
		"exp":   now.Add(2 * time.Minute).Unix(),
		"uri":   method + " " + host + path,
		"nonce": nonce,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = j.apiKeyName
	token.Header["nonce"] = nonce

	signed, err := token.SignedString(j.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// parseAPIKeyName splits organizations/{org_id}/apiKeys/{key_id}.
func parseAPIKeyName(apiKeyName string) (orgID, keyID string, err error) {
	parts := strings.Split(apiKeyName, "/")
	if len(parts) != 4 || parts[0] != "organizations" || parts[2] != "apiKeys" || parts[1] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("invalid API key name format")
	}
	return parts[1], parts[3], nil
}
