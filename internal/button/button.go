// Package button watches a GPIO push button wired to the device case.
// A press requests manual heading calibration, the same operation the
// HTTP API exposes, for when the operator has gloves on and no phone.
package button

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// Presses inside this window after an accepted one are switch bounce.
const debounceWindow = 200 * time.Millisecond

type Config struct {
	// Chip is the gpiochip name, e.g. "gpiochip0".
	Chip string
	// Line is the offset of the button line on that chip.
	Line int
}

// Service invokes onPress for each debounced falling edge. The callback
// runs on the GPIO event goroutine and must not block.
type Service struct {
	cfg     Config
	onPress func()

	mu        sync.Mutex
	closer    io.Closer
	lastPress time.Time
	presses   uint64
}

func New(cfg Config, onPress func()) *Service {
	return &Service{cfg: cfg, onPress: onPress}
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("button: service is nil")
	}
	if s.onPress == nil {
		return fmt.Errorf("button: onPress callback is required")
	}
	chip := s.cfg.Chip
	if chip == "" {
		chip = "gpiochip0"
	}
	if s.cfg.Line < 0 {
		return fmt.Errorf("button: invalid line %d", s.cfg.Line)
	}

	closer, err := watchLine(chip, s.cfg.Line, s.press)
	if err != nil {
		return fmt.Errorf("button: watch %s line %d: %w", chip, s.cfg.Line, err)
	}

	s.mu.Lock()
	s.closer = closer
	s.mu.Unlock()
	log.Printf("button: watching %s line %d", chip, s.cfg.Line)

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

func (s *Service) press() {
	s.mu.Lock()
	now := time.Now()
	if !s.lastPress.IsZero() && now.Sub(s.lastPress) < debounceWindow {
		s.mu.Unlock()
		return
	}
	s.lastPress = now
	s.presses++
	s.mu.Unlock()

	s.onPress()
}

// Presses reports how many debounced presses have been accepted.
func (s *Service) Presses() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presses
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	closer := s.closer
	s.closer = nil
	s.mu.Unlock()
	if closer != nil {
		_ = closer.Close()
	}
}
