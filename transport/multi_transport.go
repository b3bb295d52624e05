package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var _ Connector = (*Multi)(nil)

// Multi fans outgoing packets out to every attached connector and serves
// all of them with one handler.
type Multi struct {
	mu         sync.RWMutex
	connectors []Connector
}

// NewMulti creates a fan-out over the given connectors.
func NewMulti(connectors ...Connector) *Multi {
	logrus.WithFields(logrus.Fields{
		"function":   "NewMulti",
		"connectors": len(connectors),
	}).Info("Creating multi-connector")
	return &Multi{connectors: connectors}
}

// Add attaches a connector. It is only served if added before Serve.
func (m *Multi) Add(c Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"function":  "Multi.Add",
		"connector": c.String(),
	}).Info("Registering control connector")
	m.connectors = append(m.connectors, c)
}

// Connectors returns the attached connectors.
func (m *Multi) Connectors() []Connector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.connectors)
}

// Send delivers packet through every connector. Failures are logged and
// joined; one failing connector does not stop the rest.
func (m *Multi) Send(packet []byte) error {
	var errs []error
	for _, c := range m.Connectors() {
		if err := c.Send(packet); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Multi.Send",
				"connector": c.String(),
				"error":     err.Error(),
			}).Warn("Send failed")
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	return errors.Join(errs...)
}

// Serve runs every connector until ctx is cancelled or one of them fails.
// A failing connector cancels the others.
func (m *Multi) Serve(ctx context.Context, handle PacketHandler) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range m.Connectors() {
		g.Go(func() error {
			if err := c.Serve(ctx, handle); err != nil {
				return fmt.Errorf("%s: %w", c, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// String lists the attached connectors.
func (m *Multi) String() string {
	names := make([]string, 0, len(m.Connectors()))
	for _, c := range m.Connectors() {
		names = append(names, c.String())
	}
	return "multi[" + strings.Join(names, ",") + "]"
}

// Close closes every connector.
func (m *Multi) Close() error {
	var errs []error
	for _, c := range m.Connectors() {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	return errors.Join(errs...)
}
