package beep

import "sync/atomic"

// cue is one sound being played. Its read position lives with its samples,
// so a reader never pairs one cue's position with another cue's data.
type cue struct {
	samples []byte
	pos     atomic.Uint32
}

// cuePlayer feeds the most recently started cue to an audio callback.
// Starting a cue replaces whatever is still sounding.
type cuePlayer struct {
	current atomic.Pointer[cue]
}

func (p *cuePlayer) play(samples []byte) {
	p.current.Store(&cue{samples: samples})
}

func (p *cuePlayer) stop() {
	p.current.Store(nil)
}

// read fills out with the next bytes of the current cue and pads the rest
// with silence. It reports how many cue bytes were written.
func (p *cuePlayer) read(out []byte) int {
	c := p.current.Load()
	if c == nil {
		clear(out)
		return 0
	}

	total := uint32(len(c.samples))
	pos := c.pos.Load()
	if pos >= total {
		p.current.CompareAndSwap(c, nil)
		clear(out)
		return 0
	}

	n := uint32(copy(out, c.samples[pos:]))
	c.pos.Store(pos + n)
	clear(out[n:])
	if pos+n >= total {
		p.current.CompareAndSwap(c, nil)
	}
	return int(n)
}
