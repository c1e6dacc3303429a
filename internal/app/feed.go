package app

import (
	"sync"

	"quizzles/internal/domain"
)

const feedBuffer = 8

// Feed fans attempt events out to per-quiz subscribers.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[int64]map[chan domain.AttemptEvent]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[int64]map[chan domain.AttemptEvent]struct{})}
}

// Subscribe returns a channel receiving events for quizID.
// The caller must invoke the returned cancel function to avoid leaks.
func (f *Feed) Subscribe(quizID int64) (<-chan domain.AttemptEvent, func()) {
	ch := make(chan domain.AttemptEvent, feedBuffer)

	f.mu.Lock()
	subs, ok := f.subscribers[quizID]
	if !ok {
		subs = make(map[chan domain.AttemptEvent]struct{})
		f.subscribers[quizID] = subs
	}
	subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs, ok := f.subscribers[quizID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(f.subscribers, quizID)
		}
	}
	return ch, cancel
}

// Publish delivers the event without blocking. A full subscriber loses its
// oldest queued event.
func (f *Feed) Publish(event domain.AttemptEvent) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers[event.Attempt.QuizID] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

// Subscribers reports how many listeners a quiz has.
func (f *Feed) Subscribers(quizID int64) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers[quizID])
}
