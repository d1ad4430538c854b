package batch

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/media"
	"media-compressor-go/internal/resource"
)

// Session holds one Controller per category and the shared handle registry.
type Session struct {
	controllers map[media.Category]*Controller
	registry    *resource.Registry
	events      *EventBus
	logger      *logrus.Logger
}

// NewSession groups controllers by category.
func NewSession(registry *resource.Registry, events *EventBus, logger *logrus.Logger, controllers ...*Controller) *Session {
	s := &Session{
		controllers: make(map[media.Category]*Controller, len(controllers)),
		registry:    registry,
		events:      events,
		logger:      logger,
	}
	for _, c := range controllers {
		s.controllers[c.Category()] = c
	}
	return s
}

// Controller returns the controller for category.
func (s *Session) Controller(category media.Category) (*Controller, error) {
	c, ok := s.controllers[category]
	if !ok {
		return nil, fmt.Errorf("no batch for category %s", category)
	}
	return c, nil
}

// Categories returns the categories with a controller, in presentation order.
func (s *Session) Categories() []media.Category {
	var out []media.Category
	for _, cat := range media.Categories() {
		if _, ok := s.controllers[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}

// Events returns the session event bus.
func (s *Session) Events() *EventBus { return s.events }

// Registry returns the session handle registry.
func (s *Session) Registry() *resource.Registry { return s.registry }

// Close tears every batch down and releases any handle still outstanding.
// It returns the number of handles that had no owning job.
func (s *Session) Close() int {
	for _, cat := range s.Categories() {
		s.controllers[cat].Close()
	}
	stray := s.registry.ReleaseAll()
	if stray > 0 {
		s.logger.Warnf("Released %d handles without an owning job", stray)
	}
	return stray
}
