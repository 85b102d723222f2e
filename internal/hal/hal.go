// Package hal is the hardware output interface consumed by the render loop:
// a fixed set of PWM-style channels accepting duties in [0, Top].
package hal

import (
	"errors"
	"fmt"
)

// ErrChannelRange is returned for a channel index outside [0, Channels).
var ErrChannelRange = errors.New("output channel out of range")

// Output is a bank of duty-cycle channels. Set may buffer; Flush pushes the
// buffered duties to the hardware. Failures are reported as errors and never
// leave the output unusable for later calls.
type Output interface {
	Channels() int
	Top() uint16
	Set(ch int, duty uint16) error
	Flush() error
}

// Closer is implemented by outputs that hold OS resources.
type Closer interface {
	Close() error
}

// Close releases o if it holds resources.
func Close(o Output) error {
	if c, ok := o.(Closer); ok {
		return c.Close()
	}
	return nil
}

func checkChannel(ch, n int) error {
	if ch < 0 || ch >= n {
		return fmt.Errorf("%w: %d of %d", ErrChannelRange, ch, n)
	}
	return nil
}

func clampDuty(d, top uint16) uint16 {
	if d > top {
		return top
	}
	return d
}

type activeLow struct {
	Output
}

// ActiveLow wraps o so that a logical duty d drives the physical level
// Top-d, for outputs wired to sink current.
func ActiveLow(o Output) Output {
	return activeLow{o}
}

func (a activeLow) Set(ch int, duty uint16) error {
	top := a.Output.Top()
	return a.Output.Set(ch, top-clampDuty(duty, top))
}

func (a activeLow) Close() error {
	return Close(a.Output)
}
