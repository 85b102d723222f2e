package ws2811

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dokzlo13/bulbd/internal/hal"
	"github.com/dokzlo13/bulbd/internal/light"
)

// MaxPixels is the number of RGB pixels the channel table can address.
const MaxPixels = light.MaxChannels / 3

const itemsPerPixel = 24

// Strip exposes a strip as 3*pixels channels (R, G, B per pixel) with 8-bit
// duties. Flush encodes the frame and writes it to the transmitter in one
// call. All buffers are sized at construction.
type Strip struct {
	w      io.Writer
	enc    Encoder
	pixels int
	frame  [MaxPixels]Color
	groups []ColorGroup
	items  []Item
	raw    []byte
}

var _ hal.Output = (*Strip)(nil)

// NewStrip builds a strip of n pixels behind w.
func NewStrip(w io.Writer, n int, clockHz uint32, t Timings) (*Strip, error) {
	if n <= 0 || n > MaxPixels {
		return nil, fmt.Errorf("ws2811: %d pixels, limit %d", n, MaxPixels)
	}
	enc, err := NewEncoder(clockHz, t)
	if err != nil {
		return nil, err
	}
	return &Strip{
		w:      w,
		enc:    enc,
		pixels: n,
		groups: make([]ColorGroup, 0, n),
		items:  make([]Item, 0, n*itemsPerPixel),
		raw:    make([]byte, 0, n*itemsPerPixel*4),
	}, nil
}

func (s *Strip) Channels() int { return s.pixels * 3 }
func (s *Strip) Top() uint16   { return 0xff }

func (s *Strip) Set(ch int, duty uint16) error {
	if ch < 0 || ch >= s.pixels*3 {
		return fmt.Errorf("%w: %d of %d", hal.ErrChannelRange, ch, s.pixels*3)
	}
	if duty > 0xff {
		duty = 0xff
	}
	shift := uint(16 - 8*(ch%3))
	p := &s.frame[ch/3]
	*p = *p&^(0xff<<shift) | Color(duty)<<shift
	return nil
}

// Pixel returns the buffered colour of pixel i.
func (s *Strip) Pixel(i int) Color {
	if i < 0 || i >= s.pixels {
		return 0
	}
	return s.frame[i]
}

// Flush encodes the buffered frame and writes the pulse items little-endian.
func (s *Strip) Flush() error {
	s.groups = Groups(s.groups[:0], s.frame[:s.pixels])
	s.items = s.enc.AppendGroups(s.items[:0], s.groups)

	s.raw = s.raw[:0]
	for _, it := range s.items {
		s.raw = binary.LittleEndian.AppendUint32(s.raw, uint32(it))
	}
	if _, err := s.w.Write(s.raw); err != nil {
		return fmt.Errorf("ws2811: write frame: %w", err)
	}
	return nil
}

// Close closes the transmitter if it is closable.
func (s *Strip) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
