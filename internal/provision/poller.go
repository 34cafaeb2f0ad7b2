package provision

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tryliate/byoi/domain"
	serrors "github.com/tryliate/byoi/errors"
	"github.com/tryliate/byoi/internal/platform"
)

// PollPhase is the readiness poller's explicit state. The poller advances
// Creating → Polling → Healthy, or Creating → Polling → TimedOut when the
// attempt budget runs out.
type PollPhase string

const (
	PhaseCreating PollPhase = "creating"
	PhasePolling  PollPhase = "polling"
	PhaseHealthy  PollPhase = "healthy"
	PhaseTimedOut PollPhase = "timed_out"
)

// Clock abstracts waiting between poll attempts so tests can simulate time.
type Clock interface {
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock sleeps on the wall clock.
type RealClock struct{}

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poller watches a project's control-plane status until its data plane becomes
// reachable. Readiness is only observable by polling; the platform pushes
// nothing.
type Poller struct {
	client   *platform.Client
	interval time.Duration
	attempts int
	clock    Clock
}

// NewPoller creates a poller with a fixed interval and a bounded attempt count.
func NewPoller(client *platform.Client, interval time.Duration, attempts int, clock Clock) *Poller {
	if clock == nil {
		clock = RealClock{}
	}
	return &Poller{client: client, interval: interval, attempts: attempts, clock: clock}
}

// WaitForActive polls the project-status endpoint until the project reports
// healthy, returning the full descriptor (the region on it is needed to derive
// the pooled-connection hostname). Exhausting the attempt budget yields a
// provisioning-timeout error. onPhase, when non-nil, observes every state
// transition.
func (p *Poller) WaitForActive(ctx context.Context, token, projectID string, onPhase func(PollPhase, int)) (*domain.ManagedProject, error) {
	phase := PhaseCreating
	if onPhase != nil {
		onPhase(phase, 0)
	}

	for attempt := 1; attempt <= p.attempts; attempt++ {
		project, err := p.client.GetProject(ctx, token, projectID)
		switch {
		case err != nil:
			// A transient control-plane error burns an attempt but does not
			// abort the wait; the project may still be coming up.
			log.Warn().Err(err).Str("project_id", projectID).Int("attempt", attempt).
				Msg("project status check failed")
		case project.Status.Healthy():
			if onPhase != nil {
				onPhase(PhaseHealthy, attempt)
			}
			return project, nil
		default:
			log.Debug().Str("project_id", projectID).Str("status", string(project.Status)).
				Int("attempt", attempt).Msg("project not yet healthy")
		}

		if phase == PhaseCreating {
			phase = PhasePolling
			if onPhase != nil {
				onPhase(phase, attempt)
			}
		}

		if attempt < p.attempts {
			if err := p.clock.Sleep(ctx, p.interval); err != nil {
				return nil, err
			}
		}
	}

	if onPhase != nil {
		onPhase(PhaseTimedOut, p.attempts)
	}
	return nil, serrors.NewProvisioningTimeout(p.attempts)
}
