//go:build !linux

package button

import (
	"fmt"
	"io"
)

func watchLine(chip string, offset int, onEdge func()) (io.Closer, error) {
	return nil, fmt.Errorf("gpio unsupported on this platform")
}
