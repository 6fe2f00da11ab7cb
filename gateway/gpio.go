package gateway

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// pinDriver is the digital I/O the hardware gateway needs
type pinDriver interface {
	Open() error
	Close() error
	Output(pin int)
	InputPullDown(pin int)
	Write(pin int, high bool)
	Read(pin int) bool
}

// rpioDriver drives BCM pins through /dev/gpiomem
type rpioDriver struct{}

func (rpioDriver) Open() error {
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("gpio: %w", err)
	}
	return nil
}

func (rpioDriver) Close() error {
	return rpio.Close()
}

func (rpioDriver) Output(pin int) {
	rpio.Pin(pin).Output()
}

func (rpioDriver) InputPullDown(pin int) {
	p := rpio.Pin(pin)
	p.Input()
	p.PullDown()
}

func (rpioDriver) Write(pin int, high bool) {
	if high {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
}

func (rpioDriver) Read(pin int) bool {
	return rpio.Pin(pin).Read() == rpio.High
}
