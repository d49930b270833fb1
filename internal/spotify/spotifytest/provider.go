// Package spotifytest provides an in-memory stand-in for the Spotify client.
package spotifytest

import (
	"context"
	"sync"

	"github.com/jukebox-rooms/internal/spotify"
)

// Provider records calls per host and serves a configurable playback state.
type Provider struct {
	mu       sync.Mutex
	playing  map[string]*spotify.CurrentTrack
	errs     map[string]error
	skips    map[string]int
	enqueued map[string][]string
	calls    []string
	results  []spotify.TrackSummary
	devices  []spotify.Device

	// OnSkip, when set, runs after a successful SkipNext.
	OnSkip func(owner string)
}

func NewProvider() *Provider {
	return &Provider{
		playing:  make(map[string]*spotify.CurrentTrack),
		errs:     make(map[string]error),
		skips:    make(map[string]int),
		enqueued: make(map[string][]string),
	}
}

// SetPlaying sets what owner is playing; an empty id means nothing.
func (p *Provider) SetPlaying(owner, trackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if trackID == "" {
		delete(p.playing, owner)
		return
	}
	p.playing[owner] = &spotify.CurrentTrack{ID: trackID, Title: "Track " + trackID, Artist: "Artist", IsPlaying: true}
}

// FailWith makes the named method fail with err. An empty method fails every
// call.
func (p *Provider) FailWith(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[method] = err
}

func (p *Provider) SetSearchResults(results []spotify.TrackSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = results
}

func (p *Provider) SetDevices(devices []spotify.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = devices
}

func (p *Provider) Skips(owner string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skips[owner]
}

func (p *Provider) Enqueued(owner string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.enqueued[owner]...)
}

// Calls lists "Method owner" for every call made so far.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Provider) record(method, owner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, method+" "+owner)
	if err := p.errs[method]; err != nil {
		return err
	}
	return p.errs[""]
}

func (p *Provider) CurrentTrack(ctx context.Context, owner string) (*spotify.CurrentTrack, error) {
	if err := p.record("CurrentTrack", owner); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	track, ok := p.playing[owner]
	if !ok {
		return nil, nil
	}
	cp := *track
	return &cp, nil
}

func (p *Provider) Play(ctx context.Context, owner string) error {
	return p.record("Play", owner)
}

func (p *Provider) Pause(ctx context.Context, owner string) error {
	return p.record("Pause", owner)
}

func (p *Provider) SkipNext(ctx context.Context, owner string) error {
	if err := p.record("SkipNext", owner); err != nil {
		return err
	}
	p.mu.Lock()
	p.skips[owner]++
	hook := p.OnSkip
	p.mu.Unlock()

	if hook != nil {
		hook(owner)
	}
	return nil
}

func (p *Provider) SkipPrevious(ctx context.Context, owner string) error {
	return p.record("SkipPrevious", owner)
}

func (p *Provider) Enqueue(ctx context.Context, owner, uri string) error {
	if err := p.record("Enqueue", owner); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueued[owner] = append(p.enqueued[owner], uri)
	return nil
}

func (p *Provider) Search(ctx context.Context, owner, query string, limit int) (spotify.TrackSeq, bool) {
	if err := p.record("Search", owner); err != nil {
		return func(func(spotify.TrackSummary) bool) {}, false
	}
	p.mu.Lock()
	results := append([]spotify.TrackSummary(nil), p.results...)
	p.mu.Unlock()

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return func(yield func(spotify.TrackSummary) bool) {
		for _, r := range results {
			if !yield(r) {
				return
			}
		}
	}, true
}

func (p *Provider) Devices(ctx context.Context, owner string) ([]spotify.Device, error) {
	if err := p.record("Devices", owner); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]spotify.Device(nil), p.devices...), nil
}
