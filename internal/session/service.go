// Package session records the emotions sampled during a viewing session and
// summarises them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/fer-lens/internal/domain"
)

type Repository interface {
	Create(ctx context.Context, sess *domain.Session) error
	AppendEvents(ctx context.Context, id string, events []domain.Event) error
	SetEnd(ctx context.Context, id string, at time.Time) error
	Get(ctx context.Context, id string) (*domain.Session, error)
}

const anonymousUser = "anon"

type Service struct {
	repo   Repository
	now    func() time.Time
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, now: time.Now, logger: logger}
}

func (s *Service) Start(ctx context.Context, userID string) (*domain.Session, error) {
	if userID == "" {
		userID = anonymousUser
	}
	sess := &domain.Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		StartAt:       s.now(),
		EmotionCounts: map[string]int{},
		Events:        []domain.Event{},
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.InfoContext(ctx, "session started",
		slog.String("session_id", sess.ID),
		slog.String("user_id", userID),
	)
	return sess, nil
}

// RecordEmotions appends sampled emotions. Samples without a timestamp are
// stamped with the current time. An empty batch writes nothing.
func (s *Service) RecordEmotions(ctx context.Context, id string, samples []domain.EmotionSample) error {
	if len(samples) == 0 {
		return nil
	}
	now := s.now()
	events := make([]domain.Event, 0, len(samples))
	for _, sample := range samples {
		if sample.Emotion == "" {
			return domain.ErrBadRequest.WithError(fmt.Errorf("emotion is required"))
		}
		at := sample.At
		if at.IsZero() {
			at = now
		}
		events = append(events, domain.Event{Type: domain.EventTypeEmotion, Emotion: sample.Emotion, At: at})
	}
	return s.repo.AppendEvents(ctx, id, events)
}

func (s *Service) RecordEvent(ctx context.Context, id, eventType string, detail any) error {
	if eventType == "" {
		eventType = domain.EventTypeGeneric
	}
	return s.repo.AppendEvents(ctx, id, []domain.Event{{Type: eventType, Detail: detail, At: s.now()}})
}

func (s *Service) End(ctx context.Context, id string) (*domain.SessionSummary, error) {
	if err := s.repo.SetEnd(ctx, id, s.now()); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "session ended", slog.String("session_id", id))
	return s.Summary(ctx, id)
}

func (s *Service) Summary(ctx context.Context, id string) (*domain.SessionSummary, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.SessionSummary{
		Session: *sess,
		Stats:   ComputeStats(sess.StartAt, sess.Events),
	}, nil
}
