package sqltracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Record", func() {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	It("should report negative durations as they are", func() {
		rec := Record{
			Kind:          KindScalarFetch,
			Start:         start,
			StatementDone: start.Add(-time.Second),
		}

		Expect(rec.StatementDuration()).To(Equal(-time.Second))
		Expect(rec.TotalDuration()).To(Equal(-time.Second))
	})

	It("should not report consumption without streaming", func() {
		rec := Record{
			Kind:          KindMutation,
			Start:         start,
			StatementDone: start.Add(time.Millisecond),
		}

		_, ok := rec.ConsumptionDuration()
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Kind", func() {
	It("should be encoded by name", func() {
		out, err := json.Marshal(map[string]Kind{"k": KindStreamingRead})

		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(Equal(`{"k":"reader"}`))
	})

	It("should be decoded from its name", func() {
		var k Kind

		Expect(k.UnmarshalText([]byte("mutation"))).To(Succeed())
		Expect(k).To(Equal(KindMutation))
		Expect(k.UnmarshalText([]byte("bogus"))).NotTo(Succeed())
	})

	It("should name unknown values", func() {
		Expect(Kind(42).String()).To(Equal("kind(42)"))
	})
})

var globalCommand = newTestCommand("SELECT 1")

var _ = Describe("Handle", func() {
	It("should compare by identity", func() {
		a := newTestCommand("SELECT 1")
		b := newTestCommand("SELECT 1")

		Expect(a.handle == a.handle).To(BeTrue())
		Expect(a.handle == b.handle).To(BeFalse())
	})

	It("should only be zero when it was never issued", func() {
		var h Handle

		Expect(h.IsZero()).To(BeTrue())
		Expect(NewHandle().IsZero()).To(BeFalse())
	})

	It("should track package-level commands", func() {
		session := &recordingSession{}
		registry := NewRegistry(session)

		cmds := []Handle{globalCommand.handle, NewHandle(), NewHandle()}

		for _, h := range cmds {
			registry.BeginOperation(h, KindMutation)
		}

		for _, h := range cmds {
			Expect(registry.CompleteOperation(h, KindMutation, Handle{})).
				To(Succeed())
		}

		Expect(session.Records()).To(HaveLen(len(cmds)))
	})

	It("should never issue the same handle twice", func() {
		const n = 1000

		handles := make(chan Handle, n)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()
				handles <- NewHandle()
			}()
		}
		wg.Wait()
		close(handles)

		seen := make(map[Handle]bool)
		for h := range handles {
			Expect(seen).NotTo(HaveKey(h))
			seen[h] = true
		}
		Expect(seen).To(HaveLen(n))
	})
})

var _ = Describe("Context", func() {
	It("should fall back to the disabled tracker", func() {
		Expect(FromContext(context.Background())).To(Equal(Disabled))
	})
})
