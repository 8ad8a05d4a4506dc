// Package trust signs and verifies bundle etags. A signature binds an
// identity to a bundle's content digest without ever entering the digest:
// re-signing a bundle changes nothing about its identity.
//
// The envelope is a compact EdDSA JWS whose claim set carries the etag.
// Mapping key ids to real-world identities is the caller's concern.
package trust

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scheme identifies the signature envelope format.
const Scheme = "jws-eddsa-v1"

// Claims is the signed payload: the etag plus standard envelope metadata.
type Claims struct {
	Etag string `json:"etag"`
	jwt.RegisteredClaims
}

// Signer produces trust envelopes for bundle etags.
type Signer struct {
	keyID string
	key   ed25519.PrivateKey
}

// NewSigner wraps an Ed25519 private key. keyID is an opaque label carried
// in the envelope so verifiers can select the matching public key.
func NewSigner(keyID string, key ed25519.PrivateKey) *Signer {
	return &Signer{keyID: keyID, key: key}
}

// Sign produces a compact JWS over the etag.
func (s *Signer) Sign(etag string, issuedAt time.Time) (string, error) {
	claims := Claims{
		Etag: etag,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = s.keyID
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("trust: sign: %w", err)
	}
	return signed, nil
}

// KeyID returns the signer's key label.
func (s *Signer) KeyID() string { return s.keyID }

// Verifier checks trust envelopes against registered public keys.
type Verifier struct {
	keys map[string]ed25519.PublicKey
}

// NewVerifier starts with an empty key set.
func NewVerifier() *Verifier {
	return &Verifier{keys: map[string]ed25519.PublicKey{}}
}

// AddKey registers a public key under a key id.
func (v *Verifier) AddKey(keyID string, key ed25519.PublicKey) *Verifier {
	v.keys[keyID] = key
	return v
}

// Verify checks that signature is a valid envelope over etag from a
// registered key. An envelope over a different etag fails: identity is the
// etag, and the signature merely attests it.
func (v *Verifier) Verify(signature, etag string) error {
	var claims Claims
	tok, err := jwt.ParseWithClaims(signature, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		key, ok := v.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return key, nil
	})
	if err != nil {
		return fmt.Errorf("trust: verify: %w", err)
	}
	if !tok.Valid {
		return fmt.Errorf("trust: invalid signature")
	}
	if claims.Etag != etag {
		return fmt.Errorf("trust: signature covers etag %s, not %s", claims.Etag, etag)
	}
	return nil
}
