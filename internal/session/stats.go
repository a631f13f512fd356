package session

import (
	"time"

	"github.com/Brownie44l1/fer-lens/internal/domain"
)

const (
	smoothingWindow = 5
	stableShare     = 0.6
	initialEmotion  = "neutral"
)

// focusEmotions count towards focused time.
var focusEmotions = map[string]bool{
	"neutral":  true,
	"happy":    true,
	"surprise": true,
}

// Smoother tracks the modal emotion over the last few samples and adopts it
// once it holds a large enough share of the window.
type Smoother struct {
	window []string
	stable string
}

func NewSmoother() *Smoother {
	return &Smoother{stable: initialEmotion}
}

func (s *Smoother) Add(emotion string) string {
	s.window = append(s.window, emotion)
	if len(s.window) > smoothingWindow {
		s.window = s.window[1:]
	}

	freq := make(map[string]int, len(s.window))
	mode, best := "", 0
	for _, e := range s.window {
		freq[e]++
		// first to reach the highest count wins ties
		if freq[e] > best {
			mode, best = e, freq[e]
		}
	}
	if float64(best)/float64(len(s.window)) >= stableShare {
		s.stable = mode
	}
	return s.stable
}

func (s *Smoother) Stable() string {
	return s.stable
}

// ComputeStats walks the emotion events in order. Each sample accounts for
// the time since the previous sample, the first one for the time since start.
func ComputeStats(start time.Time, events []domain.Event) domain.SessionStats {
	smoother := NewSmoother()
	stats := domain.SessionStats{StableEmotion: smoother.Stable()}

	last := start
	for _, ev := range events {
		if ev.Type != domain.EventTypeEmotion {
			continue
		}
		delta := ev.At.Sub(last).Seconds()
		if delta < 0 {
			delta = 0
		}
		if ev.At.After(last) {
			last = ev.At
		}

		stats.TotalSec += delta
		if ev.Emotion != domain.NoFaceLabel {
			stats.EngagedSec += delta
		}
		if focusEmotions[ev.Emotion] {
			stats.FocusSec += delta
		}
		stats.StableEmotion = smoother.Add(ev.Emotion)
	}
	return stats
}
