// Package app holds the live, caller-mutable analysis settings and the
// watcher that reloads them from disk while a run is in progress.
package app

import (
	"fmt"
	"sync"

	"pendant-drop/internal/edge"
	"pendant-drop/internal/frame"
)

// Snapshot is the crop and edge settings committed at one moment.
type Snapshot struct {
	Revision int
	Crop     frame.CropRegion
	Edge     edge.Params
}

// EventType identifies parameter store events.
type EventType int

const (
	EventEdgeChanged EventType = iota
	EventCropChanged
)

// EventListener is called with the new Snapshot after a commit.
type EventListener func(Snapshot)

// ParamStore holds the most recently committed settings. Readers take a
// Snapshot when a frame's pipeline starts and use it for the whole frame.
type ParamStore struct {
	mu        sync.RWMutex
	current   Snapshot
	listeners map[EventType][]EventListener
}

// NewParamStore creates a store holding crop and p.
func NewParamStore(crop frame.CropRegion, p edge.Params) *ParamStore {
	return &ParamStore{
		current:   Snapshot{Crop: crop, Edge: p},
		listeners: make(map[EventType][]EventListener),
	}
}

// Snapshot returns the current settings.
func (s *ParamStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetEdge validates and commits new edge settings.
func (s *ParamStore) SetEdge(p edge.Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("edge params rejected: %w", err)
	}
	s.mu.Lock()
	s.current.Edge = p
	s.current.Revision++
	snap := s.current
	s.mu.Unlock()

	s.emit(EventEdgeChanged, snap)
	return nil
}

// SetCrop validates and commits a new crop region.
func (s *ParamStore) SetCrop(c frame.CropRegion) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("crop rejected: %w", err)
	}
	s.mu.Lock()
	s.current.Crop = c
	s.current.Revision++
	snap := s.current
	s.mu.Unlock()

	s.emit(EventCropChanged, snap)
	return nil
}

// On registers a listener for event.
func (s *ParamStore) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

func (s *ParamStore) emit(event EventType, snap Snapshot) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, l := range listeners {
		l(snap)
	}
}
