package app

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/sonichess/internal/chess"
	"github.com/MrWong99/sonichess/internal/sonify"
)

// sonifierSlot holds the active sonifier and lets a config reload replace
// it while the feed keeps delivering events.
type sonifierSlot struct {
	cur atomic.Pointer[sonifierBox]
}

// sonifierBox gives atomic.Pointer a concrete type to point at.
type sonifierBox struct{ s sonify.Sonifier }

// Compile-time interface assertion.
var _ sonify.Sonifier = (*sonifierSlot)(nil)

func newSonifierSlot(s sonify.Sonifier) *sonifierSlot {
	slot := &sonifierSlot{}
	slot.cur.Store(&sonifierBox{s: s})
	return slot
}

// Current returns the active sonifier.
func (s *sonifierSlot) Current() sonify.Sonifier { return s.cur.Load().s }

// Swap installs next and returns the sonifier it replaced.
func (s *sonifierSlot) Swap(next sonify.Sonifier) sonify.Sonifier {
	return s.cur.Swap(&sonifierBox{s: next}).s
}

func (s *sonifierSlot) Name() string { return s.Current().Name() }

func (s *sonifierSlot) OnEvent(ctx context.Context, e chess.Event) error {
	return s.Current().OnEvent(ctx, e)
}

func (s *sonifierSlot) Close() error { return s.Current().Close() }
