// Package token mints and verifies capability tokens for image access.
// A token binds exactly one resource id to an expiry instant under an
// HMAC; nothing is stored server-side, so validity is recomputed from
// the token's own fields on every check.
package token

import (
	"crypto/hmac"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/quillbox/quillbox/internal/model"
)

// ErrInvalid is the only error callers may surface to clients. The
// specific failure reasons below wrap it so the HTTP layer can map any
// of them to a uniform "invalid token" response while internal code
// can still tell them apart.
var (
	ErrInvalid          = errors.New("invalid token")
	ErrMalformed        = fmt.Errorf("%w: malformed", ErrInvalid)
	ErrInvalidSignature = fmt.Errorf("%w: bad signature", ErrInvalid)
	ErrResourceMismatch = fmt.Errorf("%w: resource mismatch", ErrInvalid)
	ErrExpired          = fmt.Errorf("%w: expired", ErrInvalid)
)

type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret []byte, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{secret: secret, now: now}
}

// Issue mints a signed token authorizing access to resourceID until
// now+ttl. Issuance is stateless beyond reading the signing secret.
func (i *Issuer) Issue(resourceID string, ttl time.Duration) (string, model.CapabilityToken) {
	issuedAt := i.now()
	// Expiry travels on the wire in whole seconds; keep the claims in
	// the same resolution so they describe exactly what was signed.
	expiresAt := time.Unix(issuedAt.Add(ttl).Unix(), 0)
	payload := payloadFor(resourceID, expiresAt.Unix())
	sig := sign(i.secret, payload)
	serialized := base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig)
	return serialized, model.CapabilityToken{
		ResourceID: resourceID,
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
	}
}

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret []byte, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: secret, now: now}
}

// Verify checks the presented token against expectedResourceID. The
// signature is checked first, before any parsed field is trusted, and
// with a constant-time comparison. Resource binding is exact-match on
// the full id; expiry rejects as soon as now reaches expiresAt.
func (v *Verifier) Verify(serialized, expectedResourceID string) error {
	payloadPart, sigPart, ok := strings.Cut(serialized, ".")
	if !ok {
		return ErrMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return ErrMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return ErrMalformed
	}
	if !hmac.Equal(sign(v.secret, payload), sig) {
		return ErrInvalidSignature
	}

	resourceID, expiresUnix, err := parsePayload(payload)
	if err != nil {
		return ErrMalformed
	}
	if resourceID != expectedResourceID {
		return ErrResourceMismatch
	}
	if !v.now().Before(time.Unix(expiresUnix, 0)) {
		return ErrExpired
	}
	return nil
}

// The payload joins the resource id and expiry with a newline; resource
// ids are path-like and never contain one. The expiry comes last so the
// id may contain any other byte.
func payloadFor(resourceID string, expiresUnix int64) []byte {
	return []byte(resourceID + "\n" + strconv.FormatInt(expiresUnix, 10))
}

func parsePayload(payload []byte) (string, int64, error) {
	idx := strings.LastIndexByte(string(payload), '\n')
	if idx < 0 {
		return "", 0, ErrMalformed
	}
	resourceID := string(payload[:idx])
	expiresUnix, err := strconv.ParseInt(string(payload[idx+1:]), 10, 64)
	if err != nil {
		return "", 0, ErrMalformed
	}
	return resourceID, expiresUnix, nil
}

func sign(secret, payload []byte) []byte {
	mac := hmac.New(sha3.New256, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
