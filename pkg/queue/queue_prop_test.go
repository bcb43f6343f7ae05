package queue

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDrainOrderProperty checks the queue ordering law: for any interleaving
// of enqueues, one drain cycle observes non-increasing priority, and FIFO
// order within equal priority.
func TestDrainOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("drain observes non-increasing priority, stable FIFO", prop.ForAll(
		func(priorities []int) bool {
			q := New()
			for seq, p := range priorities {
				if !q.Enqueue(Message{Type: TypeSystem, Payload: seq, Priority: p}) {
					return false
				}
			}

			var prev *Message
			for {
				m, ok := q.TryNext()
				if !ok {
					break
				}
				if prev != nil {
					if m.Priority > prev.Priority {
						return false // priority inversion
					}
					if m.Priority == prev.Priority && m.Payload.(int) < prev.Payload.(int) {
						return false // FIFO violated within equal priority
					}
				}
				cp := m
				prev = &cp
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.Property("no message is lost or duplicated below capacity", prop.ForAll(
		func(n int) bool {
			q := New()
			for i := 0; i < n; i++ {
				if !q.Enqueue(Message{Type: TypeSystem, Payload: i}) {
					return false
				}
			}
			seen := make(map[int]bool, n)
			for {
				m, ok := q.TryNext()
				if !ok {
					break
				}
				i := m.Payload.(int)
				if seen[i] {
					return false
				}
				seen[i] = true
			}
			return len(seen) == n
		},
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}
