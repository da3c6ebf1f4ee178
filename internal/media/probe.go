// Package media inspects fetched audio payloads: container format, duration
// and embedded tags.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"
)

// Format is an audio container format
type Format string

const (
	FormatUnknown Format = ""
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatWAV     Format = "wav"
)

// ErrUnknownFormat is returned when the payload is not a supported container
var ErrUnknownFormat = errors.New("unsupported audio format")

// Info describes one audio payload
type Info struct {
	Format      Format
	ContentType string
	Duration    time.Duration
	Title       string
	Artist      string
	Album       string
	Artwork     []byte
}

// HasArtwork reports whether the payload carries an embedded picture
func (i Info) HasArtwork() bool {
	return len(i.Artwork) > 0
}

// Probe inspects data. The hint is the source URL or file name and is only
// used when the magic bytes are inconclusive. Tag and duration failures are
// not errors; only an unrecognised container is.
func Probe(data []byte, hint string) (Info, error) {
	format := Detect(data, hint)
	if format == FormatUnknown {
		return Info{}, ErrUnknownFormat
	}

	info := Info{
		Format:      format,
		ContentType: ContentType(format),
	}

	if d, err := duration(format, data); err == nil {
		info.Duration = d
	}

	if meta, err := tag.ReadFrom(bytes.NewReader(data)); err == nil {
		info.Title = strings.TrimSpace(meta.Title())
		info.Artist = strings.TrimSpace(meta.Artist())
		info.Album = strings.TrimSpace(meta.Album())
		if pic := meta.Picture(); pic != nil {
			info.Artwork = pic.Data
		}
	}

	return info, nil
}

// Detect sniffs the container format from magic bytes, falling back to the
// extension of hint
func Detect(data []byte, hint string) Format {
	switch {
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return FormatFLAC
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}

	switch extension(hint) {
	case ".mp3":
		return FormatMP3
	case ".flac":
		return FormatFLAC
	case ".wav":
		return FormatWAV
	}
	return FormatUnknown
}

// ContentType returns the MIME type for a format
func ContentType(f Format) string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// ImageContentType guesses the MIME type of embedded artwork
func ImageContentType(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}
	if data[0] == 0xFF && data[1] == 0xD8 {
		return "image/jpeg"
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 {
		return "image/gif"
	}
	return "application/octet-stream"
}

func extension(hint string) string {
	if u, err := url.Parse(hint); err == nil && u.Path != "" {
		hint = u.Path
	}
	return strings.ToLower(path.Ext(hint))
}

func duration(format Format, data []byte) (time.Duration, error) {
	switch format {
	case FormatMP3:
		return durationMP3(data)
	case FormatFLAC:
		return durationFLAC(data)
	case FormatWAV:
		return durationWAV(data)
	default:
		return 0, ErrUnknownFormat
	}
}

// durationMP3 sums frame durations; a stream with no decodable frame is an error
func durationMP3(data []byte) (time.Duration, error) {
	dec := mp3.NewDecoder(bytes.NewReader(data))
	var (
		total   time.Duration
		skipped int
		frames  int
	)
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break
			}
			return 0, err
		}
		total += fr.Duration()
		frames++
	}
	return total, nil
}

// durationFLAC reads the STREAMINFO block
func durationFLAC(data []byte) (time.Duration, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	si := stream.Info
	if si.NSamples == 0 || si.SampleRate == 0 {
		return 0, fmt.Errorf("flac stream missing sample info")
	}
	return time.Duration(float64(si.NSamples) / float64(si.SampleRate) * float64(time.Second)), nil
}

func durationWAV(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	return dec.Duration()
}
