// Package stream manages live capture streams: the frame-producing sources,
// the tracks they own, and the per-session registry that guarantees exactly
// one live handle per session id.
package stream

import (
	"image"
	"sync"

	"github.com/mirrorcast/platform/internal/geom"
)

// Track is an independently stoppable constituent of a stream. Stopping a
// track releases its capture resource; a stopped track never restarts.
type Track interface {
	ID() string
	Kind() string
	Stop()
}

// Stream produces frames from a capture source.
type Stream interface {
	// Frame returns the most recent decoded frame. ok is false until the
	// source has produced at least one frame with non-zero dimensions.
	Frame() (*image.RGBA, bool)

	// Size returns the video-space frame dimensions, zero until ready.
	Size() geom.Size

	Tracks() []Track

	// Close stops all tracks. Safe to call repeatedly.
	Close()
}

// videoTrack is the single track of a frame-grabbing stream.
type videoTrack struct {
	id   string
	stop func()
	once sync.Once
}

func (t *videoTrack) ID() string   { return t.id }
func (t *videoTrack) Kind() string { return "video" }
func (t *videoTrack) Stop()        { t.once.Do(t.stop) }
