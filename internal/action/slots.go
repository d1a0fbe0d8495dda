package action

import (
	"context"
	"maps"
)

type SlotMsg interface{ isSlotMsg() }

// Claim takes the pending slot of a game. Reply is false when another
// action already holds it.
type Claim struct {
	GameID int
	Kind   string
	Reply  chan bool
}

type Release struct {
	GameID int
}

// Pending reports which action holds each busy slot.
type Pending struct {
	Reply chan map[int]string
}

type ShutdownSlots struct{}

func (Claim) isSlotMsg()         {}
func (Release) isSlotMsg()       {}
func (Pending) isSlotMsg()       {}
func (ShutdownSlots) isSlotMsg() {}

// Slots tracks at most one in-flight mutating action per game id.
type Slots struct {
	inbox  chan SlotMsg
	busy   map[int]string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSlots(parent context.Context) *Slots {
	ctx, cancel := context.WithCancel(parent)
	s := &Slots{
		inbox:  make(chan SlotMsg, 64),
		busy:   make(map[int]string),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Slots) Inbox() chan<- SlotMsg { return s.inbox }

func (s *Slots) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Claim:
				if _, taken := s.busy[msg.GameID]; taken {
					msg.Reply <- false
					break
				}
				s.busy[msg.GameID] = msg.Kind
				msg.Reply <- true

			case Release:
				delete(s.busy, msg.GameID)

			case Pending:
				msg.Reply <- maps.Clone(s.busy)

			case ShutdownSlots:
				clear(s.busy)
				s.cancel()
				return
			}
		}
	}
}

// TryClaim returns false when the slot is taken or the registry is closed.
func (s *Slots) TryClaim(gameID int, kind string) bool {
	reply := make(chan bool, 1)
	select {
	case s.inbox <- Claim{GameID: gameID, Kind: kind, Reply: reply}:
	case <-s.done:
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-s.done:
		return false
	}
}

func (s *Slots) Release(gameID int) {
	select {
	case s.inbox <- Release{GameID: gameID}:
	case <-s.done:
	}
}

// Pending returns a copy of the busy slots, keyed by game id.
func (s *Slots) Pending() map[int]string {
	reply := make(chan map[int]string, 1)
	select {
	case s.inbox <- Pending{Reply: reply}:
	case <-s.done:
		return map[int]string{}
	}
	select {
	case busy := <-reply:
		if busy == nil {
			busy = map[int]string{}
		}
		return busy
	case <-s.done:
		return map[int]string{}
	}
}

func (s *Slots) Close() {
	select {
	case s.inbox <- ShutdownSlots{}:
	case <-s.done:
	}
	<-s.done
}
