// Package verifier is a minimal HTTP client for a bulk email verification
// service exposing an upload/progress/download API.
package verifier

import "context"

// Progress is one remote job progress snapshot.
type Progress struct {
	Status          string  `json:"status"`
	Percent         float64 `json:"percent"`
	CreditsCharged  int     `json:"credits_charged"`
	CreditsReturned int     `json:"credits_returned"`
}

// StatusFinished is the remote status signalling result availability.
const StatusFinished = "finished"

// Service is the contract the pipeline needs from the verification service.
type Service interface {
	// Upload submits a file of encoded candidate lines and returns the opaque
	// remote job id.
	Upload(ctx context.Context, filename string, payload []byte) (int, error)
	// Progress reports the current state of a remote job.
	Progress(ctx context.Context, remoteJobID int) (Progress, error)
	// Download returns the raw newline-delimited result payload of a finished
	// remote job.
	Download(ctx context.Context, remoteJobID int) ([]byte, error)
}
