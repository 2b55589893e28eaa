package sim

import (
	g "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	akitasim "github.com/sarchlab/akita/v4/sim"
)

var _ = g.Describe("EventQueue", func() {
	var q *EventQueue

	g.BeforeEach(func() {
		q = NewEventQueue()
	})

	g.It("should run events in cycle order", func() {
		var order []string

		q.Schedule("b", HandlerFunc(func(Context) { order = append(order, "b") }), 5)
		q.Schedule("a", HandlerFunc(func(Context) { order = append(order, "a") }), 2)
		q.Schedule("c", HandlerFunc(func(Context) { order = append(order, "c") }), 5)

		Expect(q.RunUntil(10)).To(Equal(3))
		Expect(order).To(Equal([]string{"a", "b", "c"}))
		Expect(q.Len()).To(BeZero())
	})

	g.It("should reschedule handlers that return a cycle", func() {
		var cycles []int64

		q.Schedule("tick", func(ctx Context) int64 {
			cycles = append(cycles, ctx.Cycle)
			return ctx.Cycle + 1
		}, 0)

		q.RunUntil(4)

		Expect(cycles).To(Equal([]int64{0, 1, 2, 3}))
		Expect(q.Len()).To(Equal(1))
		Expect(q.Now()).To(Equal(int64(3)))
	})

	g.It("should deregister on a negative return", func() {
		calls := 0
		q.Schedule("once", func(ctx Context) int64 {
			calls++
			return -1
		}, 1)

		q.RunUntil(100)

		Expect(calls).To(Equal(1))
		Expect(q.Len()).To(BeZero())
	})

	g.It("should refuse to schedule in the past", func() {
		q.Schedule("x", HandlerFunc(func(Context) {}), 7)
		q.RunUntil(8)

		Expect(func() {
			q.Schedule("late", HandlerFunc(func(Context) {}), 3)
		}).To(Panic())
	})

	g.It("should run handlers scheduled for the running cycle in that cycle", func() {
		var order []string

		q.Schedule("first", HandlerFunc(func(ctx Context) {
			order = append(order, "first")
			q.Schedule("chained", HandlerFunc(func(ctx Context) {
				Expect(ctx.Cycle).To(Equal(int64(4)))
				order = append(order, "chained")
			}), ctx.Cycle)
		}), 4)
		q.Schedule("second", HandlerFunc(func(Context) {
			order = append(order, "second")
		}), 4)

		Expect(q.RunUntil(5)).To(Equal(3))
		Expect(order).To(Equal([]string{"first", "second", "chained"}))
	})

	g.It("should keep rescheduled handlers behind those already due", func() {
		var order []string

		q.Schedule("tick", func(ctx Context) int64 {
			order = append(order, "tick")
			return ctx.Cycle + 1
		}, 0)
		q.Schedule("late", HandlerFunc(func(Context) {
			order = append(order, "late")
		}), 1)

		q.RunUntil(2)

		Expect(order).To(Equal([]string{"tick", "late", "tick"}))
	})

	g.It("should leave events at the end cycle pending", func() {
		q.Schedule("edge", HandlerFunc(func(Context) {}), 6)

		Expect(q.RunUntil(6)).To(BeZero())
		Expect(q.Len()).To(Equal(1))
		Expect(q.Now()).To(Equal(int64(5)))
	})

	g.It("should panic on a handler that doesn't move forward", func() {
		q.Schedule("stuck", func(ctx Context) int64 { return ctx.Cycle }, 2)

		Expect(func() { q.RunUntil(3) }).To(Panic())
	})

	g.It("should queue one akita event per cycle", func() {
		q.Schedule("a", HandlerFunc(func(Context) {}), 3)
		q.Schedule("b", HandlerFunc(func(Context) {}), 3)

		Expect(q.queue.Len()).To(Equal(1))

		head := q.queue.Peek()
		Expect(head.Handler()).To(BeIdenticalTo(akitasim.Handler(q)))
		Expect(clock.Cycle(head.Time())).To(Equal(uint64(3)))
	})
})
