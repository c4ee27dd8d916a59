package webhook

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

// Verifier checks RSASSA-PKCS1-v1_5 SHA-256 signatures over raw request bodies.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses a PEM encoded RSA public key. Keys copied from an
// environment variable with literal "\n" sequences are accepted too.
func NewVerifier(pemKey string) (*Verifier, error) {
	key, err := ParsePublicKey([]byte(strings.ReplaceAll(pemKey, `\n`, "\n")))
	if err != nil {
		return nil, fmt.Errorf("NewVerifier: %w", err)
	}
	return &Verifier{key: key}, nil
}

// ParsePublicKey accepts both PKIX ("PUBLIC KEY") and PKCS#1
// ("RSA PUBLIC KEY") blocks.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", parsed)
	}
	return key, nil
}

// Verify checks a base64 signature over body.
func (v *Verifier) Verify(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return &domain.SignatureVerificationError{Reason: "missing signature header"}
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return &domain.SignatureVerificationError{Reason: "signature is not base64", Err: err}
	}

	digest := sha256.Sum256(body)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], sig); err != nil {
		return &domain.SignatureVerificationError{Reason: "signature mismatch", Err: err}
	}
	return nil
}
