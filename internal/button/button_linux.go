//go:build linux

package button

import (
	"io"

	"github.com/warthog618/go-gpiocdev"
)

// watchLine requests the line as a pulled-up input and fires onEdge on
// each falling edge (button shorts the line to ground).
func watchLine(chip string, offset int, onEdge func()) (io.Closer, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			onEdge()
		}),
	)
	if err != nil {
		return nil, err
	}
	return line, nil
}
