package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Uploader stores one binary blob and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, folder string) (string, error)
}

// ProofCapture uploads proof images and records a content hash per
// image. The hash is computed from the exact bytes handed to the
// uploader so later audit-trail comparisons are meaningful.
type ProofCapture struct {
	uploader Uploader
}

func NewProofCapture(u Uploader) *ProofCapture {
	if u == nil {
		panic("proof capture requires an uploader")
	}
	return &ProofCapture{uploader: u}
}

// Capture uploads every file and returns (url, hash) pairs in input
// order. Any failure fails the whole batch: a task must never end up
// with a truncated proof set attributed to a successful transition.
func (p *ProofCapture) Capture(ctx context.Context, files []ProofFile, folder string) ([]ProofImage, error) {
	if len(files) == 0 {
		return nil, validationErrorf("no files to capture")
	}
	out := make([]ProofImage, 0, len(files))
	for i, f := range files {
		sum := sha256.Sum256(f.Data)
		url, err := p.uploader.Upload(ctx, f.Name, f.Data, folder)
		if err != nil {
			return nil, fmt.Errorf("upload image %d (%s): %w", i, f.Name, err)
		}
		out = append(out, ProofImage{URL: url, ContentHash: hex.EncodeToString(sum[:])})
	}
	return out, nil
}
