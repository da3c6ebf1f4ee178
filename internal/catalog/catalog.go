// Package catalog sits between the HTTP layer and the track provider. It
// caches provider results and turns provider failures into empty results
// where the caller only needs something to render.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"familysite/internal/cache"
	"familysite/pkg/models"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	keyTracks    = "catalog:tracks"
	keyLinks     = "catalog:links"
	keyMainPhoto = "catalog:main-photo"

	// DefaultCaption is used when the main photo has no caption
	DefaultCaption = "Family Photo"
)

// Provider is the external track provider
type Provider interface {
	FetchTracks(ctx context.Context) ([]models.Track, error)
	FetchLinks(ctx context.Context) ([]models.Link, error)
	FetchMainPhoto(ctx context.Context) (*models.MainPhoto, error)
}

// PageData is everything the home page renders apart from the player
type PageData struct {
	Albums       []models.Link
	Links        []models.Link
	PhotoURL     string
	PhotoCaption string
}

// Service caches provider results for a fixed TTL
type Service struct {
	provider      Provider
	store         cache.Store
	ttl           time.Duration
	fallbackPhoto string
	logger        *logrus.Logger
}

// NewService creates a catalog service
func NewService(provider Provider, store cache.Store, ttl time.Duration, fallbackPhoto string, logger *logrus.Logger) *Service {
	return &Service{
		provider:      provider,
		store:         store,
		ttl:           ttl,
		fallbackPhoto: fallbackPhoto,
		logger:        logger,
	}
}

// Tracks returns the music catalog. Provider errors are returned so the API
// can answer with a server error.
func (s *Service) Tracks(ctx context.Context) ([]models.Track, error) {
	var tracks []models.Track
	err := s.cached(ctx, keyTracks, &tracks, func() (interface{}, error) {
		return s.provider.FetchTracks(ctx)
	})
	if err != nil {
		return nil, err
	}
	if tracks == nil {
		tracks = []models.Track{}
	}
	return tracks, nil
}

// Playlist returns the music catalog, or an empty list when the provider
// fails. The failure is logged.
func (s *Service) Playlist(ctx context.Context) []models.Track {
	tracks, err := s.Tracks(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Error fetching music tracks, continuing with an empty playlist")
		return []models.Track{}
	}
	return tracks
}

// Page builds the home page data. It never fails: missing links give empty
// sections and a missing photo gives the fallback photo.
func (s *Service) Page(ctx context.Context) PageData {
	var links []models.Link
	err := s.cached(ctx, keyLinks, &links, func() (interface{}, error) {
		return s.provider.FetchLinks(ctx)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Error fetching family links")
		links = nil
	}

	var photo *models.MainPhoto
	err = s.cached(ctx, keyMainPhoto, &photo, func() (interface{}, error) {
		return s.provider.FetchMainPhoto(ctx)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Error fetching main photo")
		photo = nil
	}

	data := PageData{
		Albums:       filterCategory(links, models.CategoryAlbum),
		Links:        filterCategory(links, models.CategoryLink),
		PhotoURL:     s.fallbackPhoto,
		PhotoCaption: DefaultCaption,
	}
	if photo != nil {
		if u := strings.TrimSpace(photo.URL); u != "" {
			data.PhotoURL = u
		}
		if c := strings.TrimSpace(photo.Caption); c != "" {
			data.PhotoCaption = c
		}
	}
	return data
}

// Invalidate drops every cached catalog entry
func (s *Service) Invalidate(ctx context.Context) error {
	for _, key := range []string{keyTracks, keyLinks, keyMainPhoto} {
		if err := s.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// cached decodes key into dst, or calls fetch and stores its JSON encoding.
// Cache backend failures are logged and fall through to the provider.
func (s *Service) cached(ctx context.Context, key string, dst interface{}, fetch func() (interface{}, error)) error {
	data, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Catalog cache read failed")
	}
	if ok {
		if err := json.Unmarshal(data, dst); err == nil {
			return nil
		}
		s.logger.WithField("key", key).Warn("Discarding undecodable catalog cache entry")
	}

	value, err := fetch()
	if err != nil {
		return fmt.Errorf("fetch %s: %w", key, err)
	}

	data, err = json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if s.ttl > 0 {
		if err := s.store.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Catalog cache write failed")
		}
	}
	return json.Unmarshal(data, dst)
}

func filterCategory(links []models.Link, category models.LinkCategory) []models.Link {
	return lo.Filter(links, func(l models.Link, _ int) bool {
		return l.Category == category && strings.TrimSpace(l.URL) != "" && strings.TrimSpace(l.Name) != ""
	})
}
