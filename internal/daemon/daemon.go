// Package daemon translates process signals into lifecycle states.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// State is a lifecycle request delivered to the running service.
type State int

const (
	// Start is always delivered first.
	Start State = iota + 1
	// Reload asks for the configuration to be re-read and the session restarted.
	Reload
	// Stop asks the service to shut down.
	Stop
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case Reload:
		return "reload"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// FromSignal maps a process signal to the state it requests.
func FromSignal(sig os.Signal) (State, bool) {
	switch sig {
	case syscall.SIGHUP:
		return Reload, true
	case os.Interrupt, syscall.SIGTERM:
		return Stop, true
	}
	return 0, false
}

// Listen emits Start, then one state per recognized signal received on sigs,
// in order. The returned channel is closed when ctx is done or sigs is closed.
func Listen(ctx context.Context, sigs <-chan os.Signal) <-chan State {
	out := make(chan State)

	go func() {
		defer close(out)

		if !send(ctx, out, Start) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigs:
				if !ok {
					return
				}
				state, ok := FromSignal(sig)
				if !ok {
					continue
				}
				if !send(ctx, out, state) {
					return
				}
			}
		}
	}()

	return out
}

// Signals is Listen wired to SIGHUP, SIGINT and SIGTERM of the current
// process. Signal delivery is restored to the default once ctx is done.
func Signals(ctx context.Context) <-chan State {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-ctx.Done()
		signal.Stop(sigs)
	}()

	return Listen(ctx, sigs)
}

func send(ctx context.Context, out chan<- State, s State) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
