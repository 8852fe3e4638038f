package editor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/models"
)

// Trigger names the signal that asked for an autosave.
type Trigger int

const (
	TriggerTimer Trigger = iota
	TriggerBlur
	TriggerBackground
	TriggerScenePhase
	TriggerNavigate
)

func (t Trigger) String() string {
	switch t {
	case TriggerBlur:
		return "blur"
	case TriggerBackground:
		return "background"
	case TriggerScenePhase:
		return "scene_phase"
	case TriggerNavigate:
		return "navigate"
	default:
		return "timer"
	}
}

// ParseTrigger maps a trigger name back to its value. Unknown names report false.
func ParseTrigger(name string) (Trigger, bool) {
	for _, t := range []Trigger{TriggerTimer, TriggerBlur, TriggerBackground, TriggerScenePhase, TriggerNavigate} {
		if t.String() == name {
			return t, true
		}
	}
	return TriggerTimer, false
}

// Autosaver coalesces autosave triggers.
//
// Saves for one identity are queued: a trigger arriving while a save is in
// flight waits for it and then re-evaluates against the text that was just
// persisted, so a burst of triggers produces at most one write per distinct
// buffer text.
type Autosaver struct {
	saver  Saver
	logger *slog.Logger

	mu        sync.Mutex
	locks     map[models.Identity]chan struct{}
	persisted map[models.Identity]string
}

// NewAutosaver creates an Autosaver writing through saver.
func NewAutosaver(saver Saver, logger *slog.Logger) *Autosaver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Autosaver{
		saver:     saver,
		logger:    logger,
		locks:     make(map[models.Identity]chan struct{}),
		persisted: make(map[models.Identity]string),
	}
}

// Observe records buf as the persisted state of its note, e.g. after it was
// loaded from disk.
func (a *Autosaver) Observe(buf Buffer) {
	if buf.Empty() {
		return
	}
	a.mu.Lock()
	a.persisted[buf.Identity] = buf.Text
	a.mu.Unlock()
}

// Trigger saves buf when its text differs from the last persisted text of
// its note. It returns the buffer with its updated SaveState and whether a write
// happened. On failure the buffer stays unsaved.
func (a *Autosaver) Trigger(ctx context.Context, buf Buffer, t Trigger) (Buffer, bool, error) {
	if buf.Empty() || buf.State == Saved {
		metrics.Autosaves.WithLabelValues("skipped").Inc()
		return buf, false, nil
	}

	lock := a.lock(buf.Identity)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return buf, false, ctx.Err()
	}
	defer func() { <-lock }()

	a.mu.Lock()
	last, ok := a.persisted[buf.Identity]
	a.mu.Unlock()
	if ok && last == buf.Text {
		metrics.Autosaves.WithLabelValues("skipped").Inc()
		buf.State = Saved
		return buf, false, nil
	}

	saving := buf
	saving.State = Saving
	if err := a.saver.Save(ctx, saving); err != nil {
		metrics.Autosaves.WithLabelValues("failed").Inc()
		a.logger.Warn("autosave: save failed",
			slog.String("identity", buf.Identity.String()),
			slog.String("trigger", t.String()),
			slog.String("error", err.Error()))
		buf.State = Unsaved
		return buf, false, err
	}

	a.mu.Lock()
	a.persisted[buf.Identity] = buf.Text
	a.mu.Unlock()
	metrics.Autosaves.WithLabelValues("saved").Inc()
	a.logger.Debug("autosave: saved",
		slog.String("identity", buf.Identity.String()),
		slog.String("trigger", t.String()))

	buf.State = Saved
	return buf, true, nil
}

// Navigate reconciles buf against the next record through the autosaver, so
// the outgoing buffer is saved under the same queue as every other trigger.
func (a *Autosaver) Navigate(ctx context.Context, buf Buffer, next *Record) (Buffer, Outcome, error) {
	saver := SaverFunc(func(ctx context.Context, b Buffer) error {
		_, _, err := a.Trigger(ctx, b, TriggerNavigate)
		return err
	})
	out, outcome, err := Reconcile(ctx, buf, next, saver)
	if err == nil && (outcome == OutcomeSwitched || outcome == OutcomeAdopted) {
		a.Observe(out)
	}
	return out, outcome, err
}

func (a *Autosaver) lock(id models.Identity) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		a.locks[id] = l
	}
	return l
}
