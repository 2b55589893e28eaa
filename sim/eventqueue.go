package sim

import (
	"fmt"

	akitasim "github.com/sarchlab/akita/v4/sim"
)

// A Handler is invoked when its event fires. It returns the cycle to run
// again at, or a negative value to deregister.
type Handler func(ctx Context) int64

// HandlerFunc adapts a function that doesn't reschedule.
func HandlerFunc(f func(ctx Context)) Handler {
	return func(ctx Context) int64 {
		f(ctx)
		return -1
	}
}

// clock maps cycles onto akita time. At 1 Hz every cycle is a whole second,
// which float64 represents exactly.
const clock = 1 * akitasim.Hz

type entry struct {
	name    string
	handler Handler
}

// A cycleEvent is the akita event of one cycle. It carries every handler
// due in that cycle, in the order they were scheduled, because akita's queue
// leaves same-time events unordered.
type cycleEvent struct {
	*akitasim.EventBase
	cycle   int64
	entries []entry
}

// An EventQueue runs handlers in cycle order on top of akita's event queue.
// Events scheduled for the same cycle run in the order they were scheduled.
type EventQueue struct {
	queue  *akitasim.EventQueueImpl
	cycles map[int64]*cycleEvent
	now    int64
	count  int
}

// NewEventQueue creates an empty queue positioned at cycle 0.
func NewEventQueue() *EventQueue {
	return &EventQueue{
		queue:  akitasim.NewEventQueue(),
		cycles: make(map[int64]*cycleEvent),
	}
}

// Now returns the cycle of the event being run, or of the last event run.
func (q *EventQueue) Now() int64 {
	return q.now
}

// Len returns the number of pending handlers.
func (q *EventQueue) Len() int {
	return q.count
}

// Schedule registers a handler to run at the given cycle.
func (q *EventQueue) Schedule(name string, h Handler, cycle int64) {
	if cycle < q.now {
		panic(fmt.Sprintf("event %q scheduled in the past: cycle %d, now %d",
			name, cycle, q.now))
	}

	q.add(cycle, entry{name: name, handler: h})
}

func (q *EventQueue) add(cycle int64, e entry) {
	evt, ok := q.cycles[cycle]
	if !ok {
		evt = &cycleEvent{cycle: cycle}
		evt.EventBase = akitasim.NewEventBase(
			clock.NCyclesLater(int(cycle), 0), q)
		q.cycles[cycle] = evt
		q.queue.Push(evt)
	}

	evt.entries = append(evt.entries, e)
	q.count++
}

// Handle runs every handler of one cycle. It makes the queue an akita
// handler; handlers scheduled for the running cycle join its tail.
func (q *EventQueue) Handle(e akitasim.Event) error {
	evt := e.(*cycleEvent)
	q.now = evt.cycle
	ctx := At(evt.cycle)

	for i := 0; i < len(evt.entries); i++ {
		en := evt.entries[i]
		q.count--

		next := en.handler(ctx)
		if next < 0 {
			continue
		}

		if next <= evt.cycle {
			panic(fmt.Sprintf("event %q rescheduled to cycle %d from %d",
				en.name, next, evt.cycle))
		}

		q.add(next, en)
	}

	delete(q.cycles, evt.cycle)

	return nil
}

// RunUntil fires every event scheduled before the end cycle. It returns the
// number of handlers run.
func (q *EventQueue) RunUntil(end int64) int {
	n := 0

	for q.queue.Len() > 0 {
		head := q.queue.Peek()
		if int64(clock.Cycle(head.Time())) >= end {
			break
		}

		evt := q.queue.Pop()
		if err := evt.Handler().Handle(evt); err != nil {
			panic(err)
		}

		n += len(evt.(*cycleEvent).entries)
	}

	if q.now < end-1 {
		q.now = end - 1
	}

	return n
}
