package sqltracking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"
)

type testCommand struct {
	text   string
	handle Handle
}

func newTestCommand(text string) *testCommand {
	return &testCommand{text: text, handle: NewHandle()}
}

type testCursor struct {
	rows   int
	handle Handle
}

func newTestCursor(rows int) *testCursor {
	return &testCursor{rows: rows, handle: NewHandle()}
}

type testNode struct {
	name string
}

// recordingSession collects everything that is submitted to it.
type recordingSession struct {
	mu      sync.Mutex
	node    Node
	records []Record
}

func (s *recordingSession) CurrentNode() Node {
	return s.node
}

func (s *recordingSession) Submit(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
}

func (s *recordingSession) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Record(nil), s.records...)
}

var _ = Describe("Registry", func() {
	var (
		mockCtrl *gomock.Controller
		session  *MockSession
		clock    *clockwork.FakeClock
		root     *testNode
		registry *Registry
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		session = NewMockSession(mockCtrl)
		root = &testNode{name: "root"}
		session.EXPECT().CurrentNode().Return(root).AnyTimes()

		clock = clockwork.NewFakeClockAt(
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		registry = NewRegistry(session, WithClock(clock))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should panic without a session", func() {
		Expect(func() { NewRegistry(nil) }).To(Panic())
	})

	It("should submit a scalar fetch when the statement completes", func() {
		cmd := newTestCommand("SELECT COUNT(*) FROM users")
		h := cmd.handle

		var submitted Record
		session.EXPECT().
			Submit(gomock.Any()).
			Do(func(rec Record) { submitted = rec })

		registry.BeginOperation(h, KindScalarFetch, WithCommand(cmd.text))
		clock.Advance(3 * time.Millisecond)
		err := registry.CompleteOperation(h, KindScalarFetch, Handle{})

		Expect(err).NotTo(HaveOccurred())
		Expect(submitted.Kind).To(Equal(KindScalarFetch))
		Expect(submitted.Node).To(BeIdenticalTo(root))
		Expect(submitted.Command).To(Equal(cmd.text))
		Expect(submitted.StatementDone.IsZero()).To(BeFalse())
		Expect(submitted.StatementDuration()).To(Equal(3 * time.Millisecond))
		Expect(submitted.ConsumptionDone.IsZero()).To(BeTrue())
		Expect(submitted.IsStreaming()).To(BeFalse())

		stats := registry.Stats()
		Expect(stats.InFlightOperations).To(Equal(0))
		Expect(stats.InFlightStreams).To(Equal(0))
		Expect(stats.Submitted).To(Equal(uint64(1)))
	})

	It("should defer a streaming read until the stream completes", func() {
		cmd := newTestCommand("SELECT * FROM users")
		cursor := newTestCursor(0)
		h := cmd.handle
		stream := cursor.handle

		registry.BeginOperation(h, KindStreamingRead)
		clock.Advance(2 * time.Millisecond)
		err := registry.CompleteOperation(h, KindStreamingRead, stream)

		Expect(err).NotTo(HaveOccurred())
		stats := registry.Stats()
		Expect(stats.InFlightOperations).To(Equal(0))
		Expect(stats.InFlightStreams).To(Equal(1))
		Expect(stats.Submitted).To(BeZero())

		var submitted Record
		session.EXPECT().
			Submit(gomock.Any()).
			Do(func(rec Record) { submitted = rec })

		clock.Advance(5 * time.Millisecond)
		registry.CompleteStream(stream)

		Expect(registry.Stats().InFlightStreams).To(Equal(0))
		Expect(submitted.Kind).To(Equal(KindStreamingRead))
		Expect(submitted.IsStreaming()).To(BeTrue())
		Expect(submitted.StatementDuration()).To(Equal(2 * time.Millisecond))

		consumption, ok := submitted.ConsumptionDuration()
		Expect(ok).To(BeTrue())
		Expect(consumption).To(Equal(5 * time.Millisecond))
		Expect(submitted.TotalDuration()).To(Equal(7 * time.Millisecond))
	})

	It("should fail to complete an operation that never began", func() {
		cmd := newTestCommand("DELETE FROM users")

		err := registry.CompleteOperation(
			cmd.handle, KindMutation, Handle{})

		Expect(errors.Is(err, ErrProtocolViolation)).To(BeTrue())
		Expect(registry.Stats().Submitted).To(BeZero())
	})

	It("should fail to complete an operation under another kind", func() {
		cmd := newTestCommand("SELECT 1")
		h := cmd.handle

		registry.BeginOperation(h, KindScalarFetch)
		err := registry.CompleteOperation(h, KindMutation, Handle{})

		Expect(err).To(MatchError(ErrProtocolViolation))
		Expect(registry.Stats().InFlightOperations).To(Equal(1))
	})

	It("should ignore streams that are not tracked", func() {
		cursor := newTestCursor(0)

		registry.CompleteStream(cursor.handle)
		registry.CompleteStream(Handle{})

		Expect(registry.Stats()).To(Equal(Stats{}))
	})

	It("should submit a stream only once when it is closed twice", func() {
		cmd := newTestCommand("SELECT * FROM orders")
		cursor := newTestCursor(0)
		h := cmd.handle
		stream := cursor.handle

		session.EXPECT().Submit(gomock.Any()).Times(1)

		registry.BeginOperation(h, KindStreamingRead)
		Expect(registry.CompleteOperation(h, KindStreamingRead, stream)).
			To(Succeed())
		registry.CompleteStream(stream)
		registry.CompleteStream(stream)

		Expect(registry.Stats().Submitted).To(Equal(uint64(1)))
	})

	It("should discard an unfinished record when the key begins again", func() {
		cmd := newTestCommand("UPDATE users SET name = ?")
		h := cmd.handle

		registry.BeginOperation(h, KindMutation, WithCommand("first"))
		clock.Advance(time.Millisecond)
		registry.BeginOperation(h, KindMutation, WithCommand("second"))
		clock.Advance(time.Millisecond)

		var submitted []Record
		session.EXPECT().
			Submit(gomock.Any()).
			Do(func(rec Record) { submitted = append(submitted, rec) })

		Expect(registry.CompleteOperation(h, KindMutation, Handle{})).
			To(Succeed())
		err := registry.CompleteOperation(h, KindMutation, Handle{})

		Expect(err).To(MatchError(ErrProtocolViolation))
		Expect(submitted).To(HaveLen(1))
		Expect(submitted[0].Command).To(Equal("second"))
		Expect(submitted[0].StatementDuration()).To(Equal(time.Millisecond))
		Expect(registry.Stats().Discarded).To(Equal(uint64(1)))
	})

	It("should track the same command under different kinds apart", func() {
		cmd := newTestCommand("SELECT id FROM users")
		h := cmd.handle

		var kinds []Kind
		session.EXPECT().
			Submit(gomock.Any()).
			Do(func(rec Record) { kinds = append(kinds, rec.Kind) }).
			Times(2)

		registry.BeginOperation(h, KindScalarFetch)
		registry.BeginOperation(h, KindMutation)
		Expect(registry.Stats().InFlightOperations).To(Equal(2))

		Expect(registry.CompleteOperation(h, KindMutation, Handle{})).
			To(Succeed())
		Expect(registry.CompleteOperation(h, KindScalarFetch, Handle{})).
			To(Succeed())

		Expect(kinds).To(Equal([]Kind{KindMutation, KindScalarFetch}))
	})

	It("should not mix up commands with equal values", func() {
		a := newTestCommand("SELECT 1")
		b := newTestCommand("SELECT 1")

		registry.BeginOperation(a.handle, KindScalarFetch)

		err := registry.CompleteOperation(b.handle, KindScalarFetch, Handle{})

		Expect(err).To(MatchError(ErrProtocolViolation))
	})

	Context("when in-flight records expire", func() {
		BeforeEach(func() {
			registry = NewRegistry(session,
				WithClock(clock),
				WithMaxInFlightAge(time.Second))
		})

		It("should evict abandoned operations and streams", func() {
			abandoned := newTestCommand("SELECT * FROM a")
			streamed := newTestCommand("SELECT * FROM b")
			cursor := newTestCursor(0)
			fresh := newTestCommand("SELECT * FROM c")

			registry.BeginOperation(abandoned.handle, KindMutation)
			registry.BeginOperation(streamed.handle, KindStreamingRead)
			Expect(registry.CompleteOperation(
				streamed.handle, KindStreamingRead, cursor.handle),
			).To(Succeed())

			clock.Advance(2 * time.Second)
			registry.BeginOperation(fresh.handle, KindMutation)

			stats := registry.Stats()
			Expect(stats.Evicted).To(Equal(uint64(2)))
			Expect(stats.InFlightOperations).To(Equal(1))
			Expect(stats.InFlightStreams).To(Equal(0))

			err := registry.CompleteOperation(
				abandoned.handle, KindMutation, Handle{})
			Expect(err).To(MatchError(ErrProtocolViolation))

			registry.CompleteStream(cursor.handle)
			Expect(registry.Stats().Submitted).To(BeZero())
		})

		It("should keep operations that are young enough", func() {
			cmd := newTestCommand("SELECT * FROM d")
			other := newTestCommand("SELECT * FROM e")

			registry.BeginOperation(cmd.handle, KindMutation)
			clock.Advance(500 * time.Millisecond)
			registry.BeginOperation(other.handle, KindMutation)

			Expect(registry.Stats().Evicted).To(BeZero())
			Expect(registry.Stats().InFlightOperations).To(Equal(2))
		})

		It("should look for abandoned records at most every half age", func() {
			old := newTestCommand("SELECT * FROM f")

			registry.BeginOperation(old.handle, KindMutation)
			clock.Advance(900 * time.Millisecond)
			registry.BeginOperation(NewHandle(), KindMutation)

			clock.Advance(200 * time.Millisecond)
			registry.BeginOperation(NewHandle(), KindMutation)
			Expect(registry.Stats().Evicted).To(BeZero())
			Expect(registry.Stats().InFlightOperations).To(Equal(3))

			clock.Advance(300 * time.Millisecond)
			registry.BeginOperation(NewHandle(), KindMutation)
			Expect(registry.Stats().Evicted).To(Equal(uint64(1)))
			Expect(registry.Stats().InFlightOperations).To(Equal(3))
			Expect(registry.CompleteOperation(old.handle, KindMutation, Handle{})).
				To(MatchError(ErrProtocolViolation))
		})
	})
})

var _ = Describe("Registry with many operations", func() {
	var (
		session  *recordingSession
		registry *Registry
	)

	BeforeEach(func() {
		session = &recordingSession{node: &testNode{name: "root"}}
		registry = NewRegistry(session)
	})

	It("should leave no record behind after well-paired operations", func() {
		const n = 30

		for i := 0; i < n; i++ {
			cmd := newTestCommand(fmt.Sprintf("q%d", i))
			h := cmd.handle
			kind := Kind(i%3 + 1)

			registry.BeginOperation(h, kind, WithCommand(cmd.text))

			if kind != KindStreamingRead {
				Expect(registry.CompleteOperation(h, kind, Handle{})).
					To(Succeed())
				continue
			}

			cursor := newTestCursor(i)
			Expect(registry.CompleteOperation(h, kind, cursor.handle)).
				To(Succeed())
			registry.CompleteStream(cursor.handle)
			registry.CompleteStream(cursor.handle)
		}

		stats := registry.Stats()
		Expect(stats.InFlightOperations).To(BeZero())
		Expect(stats.InFlightStreams).To(BeZero())
		Expect(session.Records()).To(HaveLen(n))
	})

	It("should not cross-assign records of concurrent operations", func() {
		const n = 64

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)

			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()

				cmd := newTestCommand(fmt.Sprintf("q%d", i))
				cursor := newTestCursor(i)
				h := cmd.handle

				registry.BeginOperation(h, KindStreamingRead,
					WithCommand(cmd.text, i))
				Expect(registry.CompleteOperation(
					h, KindStreamingRead, cursor.handle)).To(Succeed())
				registry.CompleteStream(cursor.handle)
			}(i)
		}
		wg.Wait()

		records := session.Records()
		Expect(records).To(HaveLen(n))

		seen := make(map[string]bool)
		for _, rec := range records {
			Expect(rec.Parameters).To(HaveLen(1))
			Expect(rec.Command).To(Equal(fmt.Sprintf("q%d", rec.Parameters[0])))
			Expect(rec.StatementDone).NotTo(BeTemporally("<", rec.Start))
			Expect(rec.ConsumptionDone).
				NotTo(BeTemporally("<", rec.StatementDone))
			seen[rec.Command] = true
		}
		Expect(seen).To(HaveLen(n))
		Expect(registry.Stats()).To(Equal(Stats{Submitted: n}))
	})
})

var _ = Describe("Disabled", func() {
	It("should accept every call without complaint", func() {
		cmd := newTestCommand("SELECT 1")
		h := cmd.handle

		Disabled.BeginOperation(h, KindScalarFetch)
		Expect(Disabled.CompleteOperation(h, KindScalarFetch, Handle{})).
			To(Succeed())
		Expect(Disabled.CompleteOperation(h, KindMutation, Handle{})).
			To(Succeed())
		Disabled.CompleteStream(h)
	})

	It("should be the only tracker that is not enabled", func() {
		Expect(Enabled(Disabled)).To(BeFalse())
		Expect(Enabled(nil)).To(BeFalse())
		Expect(Enabled(NewRegistry(&recordingSession{}))).To(BeTrue())
	})
})
