package spotify

import "strings"

type Track struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	URI      string   `json:"uri"`
	Artists  []Artist `json:"artists"`
	Duration int      `json:"duration_ms"`
	Album    Album    `json:"album"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsActive bool   `json:"is_active"`
	Volume   *int   `json:"volume_percent"`
}

type searchResponse struct {
	Tracks struct {
		Items []*Track `json:"items"`
	} `json:"tracks"`
}

type devicesResponse struct {
	Devices []Device `json:"devices"`
}

type currentlyPlaying struct {
	Item      *Track `json:"item"`
	Progress  int    `json:"progress_ms"`
	IsPlaying bool   `json:"is_playing"`
}

// CurrentTrack is the normalized now-playing state of a host.
type CurrentTrack struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	DurationMS int    `json:"duration_ms"`
	ProgressMS int    `json:"progress_ms"`
	IsPlaying  bool   `json:"is_playing"`
	ArtURL     string `json:"art_url"`
}

// TrackSummary is one search hit.
type TrackSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URI    string `json:"uri"`
	ArtURL string `json:"art_url"`
}

// TrackSeq lazily yields search hits. Stop early by returning false from
// yield.
type TrackSeq func(yield func(TrackSummary) bool)

func emptyTracks(func(TrackSummary) bool) {}

// Collect drains the sequence into a slice.
func (s TrackSeq) Collect() []TrackSummary {
	out := []TrackSummary{}
	s(func(t TrackSummary) bool {
		out = append(out, t)
		return true
	})
	return out
}

func (p *currentlyPlaying) normalize() *CurrentTrack {
	// ads, podcasts without an item and local files without an id count as idle
	if p.Item == nil || p.Item.ID == "" {
		return nil
	}
	return &CurrentTrack{
		ID:         p.Item.ID,
		Title:      p.Item.Name,
		Artist:     p.Item.artistNames(),
		DurationMS: p.Item.Duration,
		ProgressMS: p.Progress,
		IsPlaying:  p.IsPlaying,
		ArtURL:     p.Item.Album.coverURL(),
	}
}

func (t *Track) summary() (TrackSummary, bool) {
	if t == nil || t.URI == "" {
		return TrackSummary{}, false
	}
	return TrackSummary{
		ID:     t.ID,
		Title:  t.Name,
		Artist: t.artistNames(),
		URI:    t.URI,
		ArtURL: t.Album.coverURL(),
	}, true
}

func (t *Track) artistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return strings.Join(names, ", ")
}

func (a Album) coverURL() string {
	if len(a.Images) == 0 {
		return ""
	}
	return a.Images[0].URL
}

// TrackIDFromURI returns the id part of a "spotify:track:<id>" URI.
func TrackIDFromURI(uri string) string {
	if i := strings.LastIndex(uri, ":"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
