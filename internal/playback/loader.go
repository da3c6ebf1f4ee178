package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"familysite/internal/media"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const (
	maxMediaBytes   = 64 << 20
	resampleQuality = 4
)

// Decoded is a track decoded into memory at the output sample rate
type Decoded struct {
	Buffer *beep.Buffer
	Info   media.Info
}

// Duration returns the decoded length
func (d *Decoded) Duration() time.Duration {
	return d.Buffer.Format().SampleRate.D(d.Buffer.Len())
}

// Loader downloads media and decodes it into sample buffers. Downloaded
// payloads are kept in a small LRU keyed by URL.
type Loader struct {
	client   *http.Client
	payloads *lru.Cache[string, []byte]
	logger   *logrus.Logger
}

// NewLoader creates a loader. cacheEntries of zero disables the payload cache.
func NewLoader(timeout time.Duration, cacheEntries int, logger *logrus.Logger) *Loader {
	l := &Loader{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
	if cacheEntries > 0 {
		// Only fails for a non-positive size
		l.payloads, _ = lru.New[string, []byte](cacheEntries)
	}
	return l
}

// Fetch downloads url, answering from the payload cache when possible
func (l *Loader) Fetch(ctx context.Context, url string) ([]byte, error) {
	if l.payloads != nil {
		if data, ok := l.payloads.Get(url); ok {
			l.logger.WithField("url", url).Debug("Media payload cache hit")
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	startTime := time.Now()
	res, err := l.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &FetchError{URL: url, Status: res.StatusCode, Err: errors.New(http.StatusText(res.StatusCode))}
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxMediaBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if len(data) > maxMediaBytes {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("media larger than %d bytes", maxMediaBytes)}
	}

	l.logger.WithFields(logrus.Fields{
		"url":      url,
		"bytes":    len(data),
		"duration": time.Since(startTime),
	}).Debug("Fetched media")

	if l.payloads != nil {
		l.payloads.Add(url, data)
	}
	return data, nil
}

// Decode decodes data fully into a buffer at the given sample rate
func (l *Loader) Decode(data []byte, url string, rate beep.SampleRate) (*Decoded, error) {
	info, err := media.Probe(data, url)
	if err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch info.Format {
	case media.FormatMP3:
		streamer, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case media.FormatWAV:
		streamer, format, err = wav.Decode(bytes.NewReader(data))
	case media.FormatFLAC:
		streamer, format, err = flac.Decode(bytes.NewReader(data))
	default:
		err = media.ErrUnknownFormat
	}
	if err != nil {
		return nil, &DecodeError{URL: url, Format: info.Format, Err: err}
	}
	defer streamer.Close()

	var source beep.Streamer = streamer
	if format.SampleRate != rate {
		source = beep.Resample(resampleQuality, format.SampleRate, rate, streamer)
	}

	buffer, err := drain(source, rate)
	if err == nil {
		err = streamer.Err()
	}
	if err != nil {
		return nil, &DecodeError{URL: url, Format: info.Format, Err: err}
	}
	if buffer.Len() == 0 {
		return nil, &DecodeError{URL: url, Format: info.Format, Err: errors.New("no audio samples")}
	}

	l.logger.WithFields(logrus.Fields{
		"url":        url,
		"format":     info.Format,
		"sampleRate": format.SampleRate,
		"samples":    buffer.Len(),
	}).Debug("Decoded media")

	return &Decoded{Buffer: buffer, Info: info}, nil
}

// Load fetches and decodes url
func (l *Loader) Load(ctx context.Context, url string, rate beep.SampleRate) (*Decoded, error) {
	data, err := l.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return l.Decode(data, url, rate)
}

// Forget drops url from the payload cache
func (l *Loader) Forget(url string) {
	if l.payloads != nil {
		l.payloads.Remove(url)
	}
}

// drain buffers source at rate and reports the error that ended it, if any
func drain(source beep.Streamer, rate beep.SampleRate) (*beep.Buffer, error) {
	buffer := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buffer.Append(source)
	if err := source.Err(); err != nil {
		return nil, err
	}
	return buffer, nil
}
