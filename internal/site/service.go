package site

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/events"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MemberLister returns the controllers assigned to a site.
// controller.Repository satisfies it.
type MemberLister interface {
	ListBySite(ctx context.Context, siteID string) ([]controller.Controller, error)
}

// Service keeps the cached site status in line with its members.
type Service struct {
	sites     Repository
	members   MemberLister
	publisher events.Publisher
	logger    Logger
	now       func() time.Time

	// mu serialises recalculations so concurrent callers cannot publish
	// the same transition twice.
	mu sync.Mutex
}

// NewService creates a site service.
func NewService(sites Repository, members MemberLister) *Service {
	return &Service{
		sites:     sites,
		members:   members,
		publisher: events.Discard,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetPublisher sets where site status changes are announced.
func (s *Service) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// RecalculateStatus derives the status of siteID from its members and
// stores it when it differs from the cached value. A site without a row
// is created. Calling it twice in a row writes at most once.
func (s *Service) RecalculateStatus(ctx context.Context, siteID string) error {
	if siteID == "" {
		return ErrInvalidSite
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	members, err := s.members.ListBySite(ctx, siteID)
	if err != nil {
		return fmt.Errorf("listing members of site %s: %w", siteID, err)
	}
	statuses := make([]controller.Status, len(members))
	for i := range members {
		statuses[i] = members[i].Status
	}
	derived := DeriveStatus(statuses)

	previous := StatusUnknown
	current, err := s.sites.GetByID(ctx, siteID)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Info("creating site on demand", "site_id", siteID)
	case err != nil:
		return fmt.Errorf("loading site %s: %w", siteID, err)
	default:
		previous = current.Status
		if previous == derived {
			s.logger.Debug("site status unchanged", "site_id", siteID, "status", string(derived))
			return nil
		}
	}

	if err := s.sites.UpdateStatus(ctx, siteID, derived, s.now()); err != nil {
		return fmt.Errorf("storing status of site %s: %w", siteID, err)
	}

	if previous != derived {
		s.logger.Info("site status changed",
			"site_id", siteID,
			"from", string(previous),
			"to", string(derived),
			"members", len(members),
		)
		s.publisher.Publish(ctx, events.SiteStatusChanged(siteID, string(previous), string(derived)))
	}
	return nil
}

// RecalculateAll refreshes every known site. Failures are logged and the
// first one is returned after all sites were attempted.
func (s *Service) RecalculateAll(ctx context.Context) error {
	sites, err := s.sites.List(ctx)
	if err != nil {
		return fmt.Errorf("listing sites: %w", err)
	}

	var firstErr error
	for _, st := range sites {
		if err := s.RecalculateStatus(ctx, st.ID); err != nil {
			s.logger.Error("site recalculation failed", "site_id", st.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
