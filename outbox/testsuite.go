package outbox

import (
	"fmt"
	"testing"
)

// TestSuite runs a suite of tests against an outbox implementation.
func TestSuite(t *testing.T, newOutbox func() Outbox) {
	t.Helper()
	t.Run("Empty", func(t *testing.T) {
		o := newOutbox()
		defer o.Close()

		if got := o.Len(); got != 0 {
			t.Errorf("got: %d; want 0", got)
		}
		if _, ok, err := o.Peek(); err != nil || ok {
			t.Errorf("empty peek returned ok=%t err=%v", ok, err)
		}
		if err := o.Pop(); err != ErrEmpty {
			t.Errorf("got: %v; want %v", err, ErrEmpty)
		}
	})

	t.Run("FIFO", func(t *testing.T) {
		o := newOutbox()
		defer o.Close()

		const num = 50
		for i := 0; i < num; i++ {
			if err := o.Push([]byte(fmt.Sprintf("msg-%d", i))); err != nil {
				t.Fatal(err)
			}
		}
		if got := o.Len(); got != num {
			t.Errorf("got: %d; want %d", got, num)
		}
		for i := 0; i < num; i++ {
			msg, ok, err := o.Peek()
			if err != nil || !ok {
				t.Fatalf("peek %d failed: ok=%t err=%v", i, ok, err)
			}
			if got, want := string(msg), fmt.Sprintf("msg-%d", i); got != want {
				t.Errorf("got: %q; want %q", got, want)
			}
			if err := o.Pop(); err != nil {
				t.Fatal(err)
			}
		}
		if got := o.Len(); got != 0 {
			t.Errorf("got: %d; want 0", got)
		}
	})

	t.Run("Interleaved", func(t *testing.T) {
		o := newOutbox()
		defer o.Close()

		// Pushing while draining must append after the existing tail.
		o.Push([]byte("a"))
		o.Push([]byte("b"))
		msg, _, _ := o.Peek()
		if string(msg) != "a" {
			t.Errorf("got: %q; want %q", msg, "a")
		}
		o.Pop()
		o.Push([]byte("c"))

		var got []string
		for o.Len() > 0 {
			msg, _, err := o.Peek()
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, string(msg))
			o.Pop()
		}
		if want := []string{"b", "c"}; fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("got: %q; want %q", got, want)
		}
	})
}
