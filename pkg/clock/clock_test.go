package clock_test

import (
	"testing"
	"time"

	"github.com/quietpixel/sockclient/pkg/clock"
)

func TestMockAfterFiresOnAdvance(t *testing.T) {
	m := &clock.Mock{}
	m.SetNow(time.Unix(0, 0))

	c := m.After(30 * time.Second)

	select {
	case <-c:
		t.Fatal("timer fired before the deadline")
	default:
	}

	m.Advance(30 * time.Second)

	select {
	case <-c:
	default:
		t.Fatal("timer did not fire after advancing past the deadline")
	}
}

func TestMockAfterZeroDurationFiresImmediately(t *testing.T) {
	m := &clock.Mock{}

	select {
	case <-m.After(0):
	default:
		t.Fatal("zero-duration timer should fire immediately")
	}
}
