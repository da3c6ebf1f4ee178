package models

// DefaultArtist is shown for tracks whose provider record has no artist.
const DefaultArtist = "Unknown Artist"

// Track represents a playable music track from the catalog
type Track struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SongURL  string `json:"songUrl"`
	ImageURL string `json:"imageUrl"`
	Artist   string `json:"artist"`
}

// LinkCategory groups the family links on the home page
type LinkCategory string

const (
	CategoryAlbum LinkCategory = "album"
	CategoryLink  LinkCategory = "link"
)

// Link represents an entry of the links table
type Link struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	URL      string       `json:"url"`
	Category LinkCategory `json:"category"`
}

// MainPhoto is the background photo shown behind the page content
type MainPhoto struct {
	URL     string `json:"url"`
	Caption string `json:"caption"`
}
