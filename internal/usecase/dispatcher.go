package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// DispatcherConfig holds dispatcher timing.
type DispatcherConfig struct {
	OverlayHold    time.Duration // how long the overlay stays up when no redirect hides it
	HapticDuration time.Duration
}

// DefaultDispatcherConfig returns default dispatcher timing.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		OverlayHold:    500 * time.Millisecond,
		HapticDuration: 100 * time.Millisecond,
	}
}

// DispatchRequest is everything one dispatch needs.
type DispatchRequest struct {
	PackageName  string
	Settings     domain.KioskSettings
	Session      *domain.Session
	Capabilities domain.Capabilities
}

// ActionAttempt records the outcome of one ladder step.
type ActionAttempt struct {
	Kind     domain.ActionKind
	Err      error // nil on success; wraps ErrCapabilityUnavailable when skipped for lack of capability
	Deferred bool  // scheduled to run after the dispatch returned
}

// DispatchReport captures what happened during a single dispatch.
type DispatchReport struct {
	Event    domain.BlockEvent
	Attempts []ActionAttempt
	LogErr   error // non-nil if the block event could not be appended
}

// Attempted reports whether kind ran (successfully or not, now or deferred).
func (r DispatchReport) Attempted(kind domain.ActionKind) bool {
	for _, a := range r.Attempts {
		if a.Kind == kind && !errors.Is(a.Err, domain.ErrCapabilityUnavailable) {
			return true
		}
	}
	return false
}

// Succeeded reports whether kind ran without error (deferred steps count as scheduled).
func (r DispatchReport) Succeeded(kind domain.ActionKind) bool {
	for _, a := range r.Attempts {
		if a.Kind == kind && a.Err == nil {
			return true
		}
	}
	return false
}

// dispatch is the per-call state shared by the ladder strategies.
type dispatch struct {
	req            DispatchRequest
	locked         bool
	overlayShown   bool
	overlayHandled bool // a redirect (now or deferred) will hide the overlay
	attempts       []ActionAttempt

	owner   *Dispatcher
	actions domain.DeviceActions
	bg      context.Context
}

// schedule runs fn after delay on a detached context, then hides the overlay.
// In-flight scheduled steps complete even if the session stops meanwhile.
func (d *dispatch) schedule(delay time.Duration, kind domain.ActionKind, fn func(context.Context) error) {
	d.attempts = append(d.attempts, ActionAttempt{Kind: kind, Deferred: true})
	overlayShown := d.overlayShown
	pkg := d.req.PackageName
	owner := d.owner
	actions := d.actions
	bg := d.bg

	owner.wg.Add(1)
	go func() {
		defer owner.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C

		if err := owner.safeCall(bg, kind, fn); err != nil {
			owner.logger.Warn("deferred action failed",
				zap.String("package", pkg),
				zap.String("action", string(kind)),
				zap.Error(err))
		} else {
			owner.logger.Debug("deferred action completed",
				zap.String("package", pkg),
				zap.String("action", string(kind)))
		}
		if overlayShown {
			owner.hideOverlay(bg, actions, pkg)
		}
	}()
}

// hideOverlayNow hides the overlay immediately if this dispatch showed it.
func (d *dispatch) hideOverlayNow(ctx context.Context) {
	if d.overlayShown {
		d.owner.hideOverlay(ctx, d.actions, d.req.PackageName)
	}
}

// Dispatcher executes the enforcement ladder for a disallowed package and
// records exactly one BlockEvent per call. It never returns an error:
// every action is isolated and failures are only logged.
type Dispatcher struct {
	actions domain.DeviceActions
	events  domain.BlockEventStore
	ladder  []BlockStrategy
	labels  domain.AppLabeler
	config  DispatcherConfig
	logger  *zap.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the default ladder.
func NewDispatcher(
	actions domain.DeviceActions,
	events domain.BlockEventStore,
	config DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	return NewDispatcherWithLadder(actions, events, DefaultLadder(), config, logger)
}

// NewDispatcherWithLadder creates a dispatcher with a custom ladder (for testing).
func NewDispatcherWithLadder(
	actions domain.DeviceActions,
	events domain.BlockEventStore,
	ladder []BlockStrategy,
	config DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		actions: actions,
		events:  events,
		ladder:  ladder,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// WithLabeler sets the resolver used for event display names.
// Without one, events carry the package name.
func (p *Dispatcher) WithLabeler(labels domain.AppLabeler) *Dispatcher {
	p.labels = labels
	return p
}

// Ladder returns the strategy kinds in evaluation order.
func (p *Dispatcher) Ladder() []domain.ActionKind {
	kinds := make([]domain.ActionKind, len(p.ladder))
	for i, s := range p.ladder {
		kinds[i] = s.Kind()
	}
	return kinds
}

// Dispatch enforces against req.PackageName and returns after best-effort completion.
// Once called, the dispatch runs to completion and records its event even if
// ctx is canceled meanwhile; only ctx's values are used.
func (p *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) DispatchReport {
	start := p.now()
	ctx = context.WithoutCancel(ctx)
	d := &dispatch{
		req:     req,
		owner:   p,
		actions: p.actions,
		bg:      ctx,
	}

	for _, s := range p.ladder {
		kind := s.Kind()
		if err := s.Check(d); err != nil {
			if errors.Is(err, errNotApplicable) {
				continue
			}
			d.attempts = append(d.attempts, ActionAttempt{Kind: kind, Err: err})
			p.logger.Debug("enforcement step unavailable",
				zap.String("package", req.PackageName),
				zap.String("action", string(kind)),
				zap.Error(err))
			continue
		}

		before := len(d.attempts)
		err := p.safeCall(ctx, kind, func(ctx context.Context) error {
			return s.Execute(ctx, p.actions, d)
		})
		if len(d.attempts) > before {
			// The step scheduled itself; its outcome is logged when it runs.
			continue
		}
		d.attempts = append(d.attempts, ActionAttempt{Kind: kind, Err: err})
		if err != nil {
			p.logger.Warn("enforcement step failed",
				zap.String("package", req.PackageName),
				zap.String("action", string(kind)),
				zap.Error(err))
		}
	}

	if d.overlayShown && !d.overlayHandled {
		p.scheduleOverlayHide(d)
	}

	if req.Settings.VibrateOnBlock {
		err := p.safeCall(ctx, domain.ActionHaptic, func(ctx context.Context) error {
			return p.actions.Vibrate(ctx, p.config.HapticDuration)
		})
		d.attempts = append(d.attempts, ActionAttempt{Kind: domain.ActionHaptic, Err: err})
		if err != nil {
			p.logger.Debug("haptic pulse failed", zap.Error(err))
		}
	}

	event := domain.BlockEvent{
		ID:          uuid.NewString(),
		PackageName: req.PackageName,
		DisplayName: p.displayName(ctx, req.PackageName),
		Timestamp:   start,
		ActionTaken: req.Settings.BlockingMode,
	}
	if req.Session != nil {
		event.SessionID = req.Session.ID
	}

	report := DispatchReport{Event: event, Attempts: d.attempts}
	if err := p.events.AppendBlockEvent(ctx, event); err != nil {
		report.LogErr = fmt.Errorf("%w: append block event: %v", domain.ErrPersistence, err)
		p.logger.Warn("failed to record block event",
			zap.String("package", req.PackageName),
			zap.Error(err))
	}

	p.logger.Info("blocked app",
		zap.String("package", req.PackageName),
		zap.String("mode", string(req.Settings.BlockingMode)),
		zap.Int64("session_id", event.SessionID),
		zap.Strings("actions", succeededKinds(d.attempts)),
		zap.Int64("duration_ms", p.now().Sub(start).Milliseconds()))

	return report
}

func (p *Dispatcher) displayName(ctx context.Context, pkg string) string {
	if p.labels == nil {
		return pkg
	}
	label, err := p.labels.AppLabel(ctx, pkg)
	if err != nil || label == "" {
		p.logger.Debug("no app label", zap.String("package", pkg), zap.Error(err))
		return pkg
	}
	return label
}

// Wait blocks until all deferred steps have completed.
func (p *Dispatcher) Wait() {
	p.wg.Wait()
}

func (p *Dispatcher) scheduleOverlayHide(d *dispatch) {
	pkg := d.req.PackageName
	bg := d.bg
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.NewTimer(p.config.OverlayHold)
		defer timer.Stop()
		<-timer.C
		p.hideOverlay(bg, p.actions, pkg)
	}()
}

func (p *Dispatcher) hideOverlay(ctx context.Context, actions domain.DeviceActions, pkg string) {
	if err := p.safeCall(ctx, domain.ActionOverlay, actions.HideOverlay); err != nil {
		p.logger.Warn("failed to hide overlay",
			zap.String("package", pkg),
			zap.Error(err))
	}
}

// safeCall runs fn, converting a collaborator panic into an action failure.
func (p *Dispatcher) safeCall(ctx context.Context, kind domain.ActionKind, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", domain.ErrActionFailed, kind, r)
		}
	}()
	return fn(ctx)
}

func succeededKinds(attempts []ActionAttempt) []string {
	var out []string
	for _, a := range attempts {
		if a.Err == nil {
			out = append(out, string(a.Kind))
		}
	}
	return out
}
