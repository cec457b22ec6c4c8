// Package replay records and replays sensor sessions.
//
// Log format: line-oriented text.
//
//   - Blank lines ignored.
//   - Lines starting with '#' ignored.
//   - Data lines are one JSON-encoded tick input each, in session order.
//
// This is intentionally simple and stable so field recordings stay usable
// for regression tests across versions.
package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KarunTCD/loga-botb/internal/fusion"
)

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]fusion.TickInput, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]fusion.TickInput, 0, 1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		var in fusion.TickInput
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			return nil, fmt.Errorf("invalid replay line: %w", err)
		}
		if in.DT <= 0 {
			return nil, fmt.Errorf("invalid replay record (dt=%v)", in.DT)
		}
		recs = append(recs, in)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Open reads a whole session log from disk.
func Open(path string) ([]fusion.TickInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return NewReader(f).ReadAll()
}

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("# loga-botb sensor session\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw}, nil
}

func (ww *Writer) WriteTick(in fusion.TickInput) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if in.DT <= 0 {
		return fmt.Errorf("replay: refusing record with dt=%v", in.DT)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := ww.w.Write(data); err != nil {
		return err
	}
	return nil
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	ferr := ww.w.Flush()
	cerr := ww.f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Player walks a recorded session in order. Speed scales the pacing the
// caller should apply between ticks; Loop restarts at the end instead of
// stopping.
type Player struct {
	recs  []fusion.TickInput
	speed float64
	loop  bool
	idx   int
}

func NewPlayer(recs []fusion.TickInput, speed float64, loop bool) (*Player, error) {
	if len(recs) == 0 {
		return nil, errors.New("replay: empty session")
	}
	if speed <= 0 {
		speed = 1
	}
	return &Player{recs: recs, speed: speed, loop: loop}, nil
}

// Next returns the next tick input and how long the caller should wait
// before applying it. ok is false once a non-looping session is exhausted.
func (p *Player) Next() (in fusion.TickInput, wait float64, ok bool) {
	if p == nil || p.idx >= len(p.recs) {
		return fusion.TickInput{}, 0, false
	}
	in = p.recs[p.idx]
	p.idx++
	if p.idx >= len(p.recs) && p.loop {
		p.idx = 0
	}
	return in, in.DT / p.speed, true
}
