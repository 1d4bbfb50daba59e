package gossip

import (
	"math/rand"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer drives the heartbeat loop. It can be reset or stopped by other
// routines without racing the tick consumer.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      //sends a signal to listening process
	resetCh      chan time.Duration //receives instruction to reset the timer
	stopCh       chan struct{}      //receives instruction to stop the timer
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
	set          bool
}

// NewControlTimer creates a ControlTimer from a timerFactory.
func NewControlTimer(factory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: factory,
		tickCh:       make(chan struct{}),
		resetCh:      make(chan time.Duration),
		stopCh:       make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

// NewRandomControlTimer creates a ControlTimer whose interval is randomly
// spread between min and 2*min, so that heartbeats from multiple nodes do not
// synchronize.
func NewRandomControlTimer() *ControlTimer {

	randomTimeout := func(min time.Duration) <-chan time.Time {
		if min == 0 {
			return nil
		}
		extra := (time.Duration(rand.Int63()) % min)
		return time.After(min + extra)
	}
	return NewControlTimer(randomTimeout)
}

// Run ticks until Shutdown is called.
func (c *ControlTimer) Run(init time.Duration) {

	setTimer := func(t time.Duration) <-chan time.Time {
		c.set = true
		return c.timerFactory(t)
	}

	timer := setTimer(init)
	for {
		select {
		case <-timer:
			select {
			case c.tickCh <- struct{}{}:
			case <-c.shutdownCh:
				c.set = false
				return
			}
			c.set = false
			timer = setTimer(init)
		case t := <-c.resetCh:
			timer = setTimer(t)
		case <-c.stopCh:
			timer = nil
			c.set = false
		case <-c.shutdownCh:
			c.set = false
			return
		}
	}
}

// Shutdown exits the Run loop.
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}
