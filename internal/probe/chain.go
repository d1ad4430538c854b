package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Chain tries each prober in order and returns the first usable result.
type Chain struct {
	probers []Prober
	logger  *logrus.Logger
}

// NewChain returns a Chain over probers in priority order.
func NewChain(logger *logrus.Logger, probers ...Prober) *Chain {
	return &Chain{probers: probers, logger: logger}
}

// Name returns the joined backend names.
func (c *Chain) Name() string {
	names := make([]string, len(c.probers))
	for i, p := range c.probers {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

// Probe returns the first result with a positive duration.
func (c *Chain) Probe(ctx context.Context, path string) (*Raw, error) {
	if len(c.probers) == 0 {
		return nil, errors.New("no probe backends configured")
	}
	var errs []error
	for _, p := range c.probers {
		raw, err := p.Probe(ctx, path)
		if err == nil && raw != nil && raw.DurationSeconds > 0 {
			return raw, nil
		}
		if err == nil {
			err = ErrNoMetadata
		}
		c.logger.WithFields(logrus.Fields{
			"file":    path,
			"backend": p.Name(),
		}).Debugf("Probe backend failed: %v", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
