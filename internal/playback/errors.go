package playback

import (
	"errors"
	"fmt"

	"familysite/internal/media"
)

var (
	// ErrEmptyCatalog is returned by the sequencer when there are no tracks
	ErrEmptyCatalog = errors.New("no tracks available")

	// ErrNoTrack is returned by Play when nothing has been loaded
	ErrNoTrack = errors.New("no track loaded")

	// ErrSuperseded is returned when a newer load replaced this one while it
	// was fetching or decoding
	ErrSuperseded = errors.New("load superseded by a newer request")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("playback engine is closed")
)

// FetchError means the media could not be downloaded
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DecodeError means the payload is not decodable audio
type DecodeError struct {
	URL    string
	Format media.Format
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format != media.FormatUnknown {
		return fmt.Sprintf("decode %s as %s: %v", e.URL, e.Format, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
