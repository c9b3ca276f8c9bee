//go:build linux

package beep

import (
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"chorddrill/log"
)

var (
	regularSamples []int16
	accentSamples  []int16
	chordSamples   []int16
	soundOnce      sync.Once

	clientMu sync.Mutex
	client   *pulse.Client
)

func initSound() {
	regularSamples = RegularTone.Samples(sampleRate, 2)
	accentSamples = AccentTone.Samples(sampleRate, 2)
	chordSamples = ChordTone.Samples(sampleRate, 2)
}

// pulseClient returns the shared connection, dialing it on first use.
func pulseClient() (*pulse.Client, error) {
	clientMu.Lock()
	defer clientMu.Unlock()
	if client != nil {
		return client, nil
	}
	c, err := pulse.NewClient(pulse.ClientApplicationName("chorddrill"))
	if err != nil {
		return nil, err
	}
	client = c
	return client, nil
}

func dropClient(c *pulse.Client) {
	clientMu.Lock()
	defer clientMu.Unlock()
	if client == c {
		client.Close()
		client = nil
	}
}

func playSamples(samples []int16) {
	if len(samples) == 0 {
		return
	}
	c, err := pulseClient()
	if err != nil {
		log.Warnf("pulse connect error: %v", err)
		return
	}

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		log.Warnf("pulse playback error: %v", err)
		// the server may have gone away; redial on the next tick
		dropClient(c)
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}

func Init() {
	soundOnce.Do(initSound)
}

func PlayTick() {
	if disabled.Load() {
		return
	}
	soundOnce.Do(initSound)
	go playSamples(regularSamples)
}

func PlayAccent() {
	if disabled.Load() {
		return
	}
	soundOnce.Do(initSound)
	go playSamples(accentSamples)
}

func PlayChordChange() {
	if disabled.Load() {
		return
	}
	soundOnce.Do(initSound)
	go playSamples(chordSamples)
}
