// Package airtable is the track provider client. It reads the links and music
// tables of the family base through the Airtable REST API.
package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"familysite/internal/config"
	"familysite/pkg/models"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Field names used by the family base
const (
	fieldName      = "Name"
	fieldLinkURL   = "links"
	fieldCategory  = "category"
	fieldPhotoURL  = "URL"
	fieldCaption   = "Caption"
	fieldSongURL   = "link-song"
	fieldImageURL  = "link-image"
	fieldArtist    = "Artist"
	maxPageSize    = 100
	maxPages       = 50
	maxErrorBodyKB = 4
)

// ErrMissingCredentials is returned when the API key or base id is empty
var ErrMissingCredentials = errors.New("airtable credentials are not configured")

// ProviderError describes a failed provider request
type ProviderError struct {
	Op     string
	Table  string
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("airtable %s %s: status %d: %v", e.Op, e.Table, e.Status, e.Err)
	}
	return fmt.Sprintf("airtable %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Record is a single Airtable row
type Record struct {
	ID          string                 `json:"id"`
	CreatedTime string                 `json:"createdTime"`
	Fields      map[string]interface{} `json:"fields"`
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

// Client talks to one Airtable base
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	baseID     string
	linksTable string
	musicTable string
	logger     *logrus.Logger
}

// NewClient creates a client from the Airtable configuration
func NewClient(cfg config.AirtableConfig, logger *logrus.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		baseID:     cfg.BaseID,
		linksTable: cfg.LinksTable,
		musicTable: cfg.MusicTable,
		logger:     logger,
	}
}

// FetchTracks returns every music record that has a name and a song URL
func (c *Client) FetchTracks(ctx context.Context) ([]models.Track, error) {
	records, err := c.listRecords(ctx, c.musicTable, 0)
	if err != nil {
		return nil, err
	}

	tracks := lo.FilterMap(records, func(r Record, _ int) (models.Track, bool) {
		name := stringField(r, fieldName)
		songURL := stringField(r, fieldSongURL)
		if name == "" || songURL == "" {
			return models.Track{}, false
		}
		artist := stringField(r, fieldArtist)
		if artist == "" {
			artist = models.DefaultArtist
		}
		return models.Track{
			ID:       r.ID,
			Name:     name,
			SongURL:  songURL,
			ImageURL: stringField(r, fieldImageURL),
			Artist:   artist,
		}, true
	})

	if skipped := len(records) - len(tracks); skipped > 0 {
		c.logger.WithFields(logrus.Fields{
			"table":   c.musicTable,
			"skipped": skipped,
		}).Debug("Skipped music records missing name or song URL")
	}

	return tracks, nil
}

// FetchLinks returns the link records that have a name and a URL
func (c *Client) FetchLinks(ctx context.Context) ([]models.Link, error) {
	records, err := c.listRecords(ctx, c.linksTable, 0)
	if err != nil {
		return nil, err
	}

	return lo.FilterMap(records, func(r Record, _ int) (models.Link, bool) {
		name := stringField(r, fieldName)
		link := stringField(r, fieldLinkURL)
		if name == "" || link == "" {
			return models.Link{}, false
		}
		return models.Link{
			ID:       r.ID,
			Name:     name,
			URL:      link,
			Category: models.LinkCategory(strings.ToLower(stringField(r, fieldCategory))),
		}, true
	}), nil
}

// FetchMainPhoto returns the photo of the first links record, or nil when
// the table is empty
func (c *Client) FetchMainPhoto(ctx context.Context) (*models.MainPhoto, error) {
	records, err := c.listRecords(ctx, c.linksTable, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	return &models.MainPhoto{
		URL:     stringField(records[0], fieldPhotoURL),
		Caption: stringField(records[0], fieldCaption),
	}, nil
}

// listRecords pages through a table. maxRecords of zero means all records.
func (c *Client) listRecords(ctx context.Context, table string, maxRecords int) ([]Record, error) {
	if c.apiKey == "" || c.baseID == "" {
		return nil, &ProviderError{Op: "list", Table: table, Err: ErrMissingCredentials}
	}

	var records []Record
	offset := ""
	for page := 0; page < maxPages; page++ {
		resp, err := c.listPage(ctx, table, offset, maxRecords)
		if err != nil {
			return nil, err
		}
		records = append(records, resp.Records...)

		if resp.Offset == "" || (maxRecords > 0 && len(records) >= maxRecords) {
			break
		}
		offset = resp.Offset
	}

	if maxRecords > 0 && len(records) > maxRecords {
		records = records[:maxRecords]
	}

	c.logger.WithFields(logrus.Fields{
		"table":   table,
		"records": len(records),
	}).Debug("Fetched Airtable records")

	return records, nil
}

func (c *Client) listPage(ctx context.Context, table, offset string, maxRecords int) (*listResponse, error) {
	query := url.Values{}
	query.Set("pageSize", fmt.Sprintf("%d", maxPageSize))
	if maxRecords > 0 {
		query.Set("maxRecords", fmt.Sprintf("%d", maxRecords))
	}
	if offset != "" {
		query.Set("offset", offset)
	}

	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(table), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ProviderError{Op: "list", Table: table, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: "list", Table: table, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyKB*1024))
		return nil, &ProviderError{
			Op:     "list",
			Table:  table,
			Status: res.StatusCode,
			Err:    fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	var page listResponse
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, &ProviderError{Op: "decode", Table: table, Err: err}
	}
	if page.Records == nil {
		return nil, &ProviderError{Op: "decode", Table: table, Err: errors.New("response has no records field")}
	}

	return &page, nil
}

// stringField returns a trimmed string field, or "" when missing or not a string
func stringField(r Record, name string) string {
	value, ok := r.Fields[name].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
