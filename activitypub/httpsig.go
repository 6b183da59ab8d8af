package activitypub

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

// Signed components for every outbound request. Digest only matters when a
// body is present; the signer computes it from the body passed in.
var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, body)
}

// VerifyRequest verifies the HTTP signature on an incoming request against
// the given public key. Returns the actor URI derived from the signature's
// keyId so the caller can match it to the claimed actor.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// keyId is usually "https://example.com/users/alice#main-key";
	// the actor URI is everything before the fragment.
	actorURI := strings.Split(keyId, "#")[0]

	return actorURI, nil
}

// ParsePrivateKey converts a PEM string to *rsa.PrivateKey.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey. Remote servers
// publish PKIX blocks almost universally, but a few still send PKCS1.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if pubKey, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPubKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPubKey, nil
	}

	rsaPubKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return rsaPubKey, nil
}
