// Package gateway serves stored images to capability-token holders.
package gateway

import (
	"errors"
	"io"

	"github.com/quillbox/quillbox/internal/blob"
	"github.com/quillbox/quillbox/internal/token"
)

var (
	// ErrUnauthorized is returned for every token failure. Callers must
	// not learn which check rejected them.
	ErrUnauthorized = errors.New("invalid token")
	ErrNotFound     = errors.New("image not found")
)

type Blobs interface {
	Open(handle string) (io.ReadCloser, string, error)
}

type Gateway struct {
	verifier *token.Verifier
	blobs    Blobs
}

func New(verifier *token.Verifier, blobs Blobs) *Gateway {
	return &Gateway{verifier: verifier, blobs: blobs}
}

// Fetch verifies the token against exactly the requested resource and
// only then touches storage. It returns the image stream and its
// content type; the caller owns closing the stream.
func (g *Gateway) Fetch(resourceID, serializedToken string) (io.ReadCloser, string, error) {
	if err := g.verifier.Verify(serializedToken, resourceID); err != nil {
		return nil, "", ErrUnauthorized
	}
	rc, contentType, err := g.blobs.Open(resourceID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return rc, contentType, nil
}
