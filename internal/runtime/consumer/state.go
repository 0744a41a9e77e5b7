package consumer

import "time"

// State is the lifecycle position of a Consumer.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateConsuming
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateConsuming:
		return "consuming"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome describes how a delivery was settled.
type Outcome string

const (
	// OutcomeAcked means the message was processed and acknowledged.
	OutcomeAcked Outcome = "acked"
	// OutcomeDropped means the payload failed validation and was acknowledged
	// without being stored.
	OutcomeDropped Outcome = "dropped"
	// OutcomePoisoned means the message was moved to the poison queue.
	OutcomePoisoned Outcome = "poisoned"
	// OutcomeRequeued means the message was nacked for redelivery.
	OutcomeRequeued Outcome = "requeued"
	// OutcomeRejected means the message was nacked without requeue.
	OutcomeRejected Outcome = "rejected"
)

// Observer receives lifecycle and settlement events. Implementations must be
// safe for use from the consumer goroutine while being read elsewhere.
type Observer interface {
	StateChanged(state State)
	Reconnected()
	Received(queue string)
	Settled(queue, messageType string, outcome Outcome, took time.Duration)
	Replied(ok bool)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)                             {}
func (nopObserver) Reconnected()                                   {}
func (nopObserver) Received(string)                                {}
func (nopObserver) Settled(string, string, Outcome, time.Duration) {}
func (nopObserver) Replied(bool)                                   {}
