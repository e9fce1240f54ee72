// Package activity records user actions against books and keeps the book
// counters and reading history they feed.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevinaaaquil/booknook/backend/metrics"
	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// CompleteThreshold is the progress percentage at which a read counts as complete.
const CompleteThreshold = 100

var (
	ErrInvalidAction = errors.New("activity: invalid action")
	ErrMissingRating = errors.New("activity: rate requires a rating")
)

// Store is the subset of the document store the tracker writes to.
type Store interface {
	InsertActivity(ctx context.Context, a *models.Activity) error
	IncrementBookCounter(ctx context.Context, id primitive.ObjectID, c store.Counter) error
	AddRating(ctx context.Context, id primitive.ObjectID, r models.Rating) error
	PushRecentlyRead(ctx context.Context, userID, bookID primitive.ObjectID, at time.Time) (bool, error)
	SetLastRead(ctx context.Context, userID, bookID primitive.ObjectID, pos models.ReadPosition) error
}

type Tracker struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewTracker(s Store, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{store: s, log: log.Named("activity"), now: time.Now}
}

// Track appends one event and applies its side effects. A read reporting
// progress of CompleteThreshold or more also records a complete event.
// Writes happen before Track returns; side-effect failures are logged and
// joined into the returned error.
func (t *Tracker) Track(ctx context.Context, userID, bookID primitive.ObjectID, action models.Action, md models.ActivityMetadata) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if action == models.ActionRate && md.Rating == nil {
		return ErrMissingRating
	}
	err := t.record(ctx, userID, bookID, action, md)
	if action == models.ActionRead && md.Progress != nil && *md.Progress >= CompleteThreshold {
		err = errors.Join(err, t.record(ctx, userID, bookID, models.ActionComplete, md))
	}
	return err
}

func (t *Tracker) record(ctx context.Context, userID, bookID primitive.ObjectID, action models.Action, md models.ActivityMetadata) error {
	now := t.now().UTC()
	ev := &models.Activity{
		UserID:    userID,
		BookID:    bookID,
		Action:    action,
		Timestamp: now,
		Metadata:  md,
	}
	if err := t.store.InsertActivity(ctx, ev); err != nil {
		metrics.ActivityEvents.WithLabelValues(string(action), "failed").Inc()
		return fmt.Errorf("insert %s activity: %w", action, err)
	}

	var errs []error
	switch action {
	case models.ActionView:
		errs = append(errs, t.store.IncrementBookCounter(ctx, bookID, store.CounterView))
	case models.ActionRead:
		errs = append(errs, t.store.IncrementBookCounter(ctx, bookID, store.CounterRead))
	case models.ActionComplete:
		errs = append(errs, t.store.IncrementBookCounter(ctx, bookID, store.CounterComplete))
	case models.ActionRate:
		errs = append(errs, t.store.AddRating(ctx, bookID, models.Rating{
			UserID:    userID,
			Rating:    *md.Rating,
			Timestamp: now,
		}))
	}
	if action == models.ActionRead || action == models.ActionComplete {
		if _, err := t.store.PushRecentlyRead(ctx, userID, bookID, now); err != nil {
			errs = append(errs, fmt.Errorf("recently read: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		metrics.ActivityEvents.WithLabelValues(string(action), "partial").Inc()
		t.log.Warn("activity side effects failed",
			zap.String("action", string(action)),
			zap.String("bookId", bookID.Hex()),
			zap.Error(err))
		return err
	}
	metrics.ActivityEvents.WithLabelValues(string(action), "ok").Inc()
	return nil
}

// RecordProgress stores the reader position, then tracks a read. Only the
// position write can fail the call; tracking failures are logged.
func (t *Tracker) RecordProgress(ctx context.Context, userID, bookID primitive.ObjectID, progress float64, cfi string) error {
	pos := models.ReadPosition{Progress: progress, CFI: cfi, Timestamp: t.now().UTC()}
	if err := t.store.SetLastRead(ctx, userID, bookID, pos); err != nil {
		return fmt.Errorf("save read position: %w", err)
	}
	md := models.ActivityMetadata{Progress: &progress, CFI: cfi}
	if err := t.Track(ctx, userID, bookID, models.ActionRead, md); err != nil {
		t.log.Warn("read tracking failed", zap.String("bookId", bookID.Hex()), zap.Error(err))
	}
	return nil
}

// TrackQuietly tracks an action annotating some other user action and only logs failures.
func (t *Tracker) TrackQuietly(ctx context.Context, userID, bookID primitive.ObjectID, action models.Action, md models.ActivityMetadata) {
	if err := t.Track(ctx, userID, bookID, action, md); err != nil {
		t.log.Warn("activity tracking failed",
			zap.String("action", string(action)),
			zap.String("bookId", bookID.Hex()),
			zap.Error(err))
	}
}
