//go:build darwin

package beep

import (
	"sync"

	"github.com/gen2brain/malgo"

	"chorddrill/log"
)

var (
	malgoCtx       *malgo.AllocatedContext
	device         *malgo.Device
	regularSamples []byte
	accentSamples  []byte
	chordSamples   []byte
	soundOnce      sync.Once

	player cuePlayer
	playMu sync.Mutex
)

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: dataCallback,
	}

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, config, callbacks)
	return err
}

func initSound() {
	var err error
	malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Warnf("malgo init error: %v", err)
		return
	}

	regularSamples = RegularTone.Bytes(sampleRate)
	accentSamples = AccentTone.Bytes(sampleRate)
	chordSamples = ChordTone.Bytes(sampleRate)

	if err := initDevice(); err != nil {
		log.Warnf("malgo device error: %v", err)
		malgoCtx.Uninit()
		malgoCtx = nil
		return
	}
}

func dataCallback(pOutput, _ []byte, frameCount uint32) {
	player.read(pOutput[:frameCount*2])
}

// playBytes restarts the device on the new cue. The device keeps running
// between beats, so a new tick cuts off whatever tail is still sounding.
func playBytes(samples []byte) {
	if malgoCtx == nil || len(samples) == 0 {
		return
	}

	playMu.Lock()
	defer playMu.Unlock()

	if device == nil {
		return
	}

	player.play(samples)
	if device.IsStarted() {
		return
	}

	if err := device.Start(); err != nil {
		// Try recreating device (handles macOS sleep/wake)
		device.Uninit()
		if err := initDevice(); err != nil {
			player.stop()
			return
		}
		if err := device.Start(); err != nil {
			player.stop()
			return
		}
	}
}

func Init() {
	soundOnce.Do(initSound)
}

func PlayTick() {
	if disabled.Load() {
		return
	}
	soundOnce.Do(initSound)
	playBytes(regularSamples)
}

func PlayAccent() {
	if disabled.Load() {
		return
	}
	soundOnce.Do(initSound)
	playBytes(accentSamples)
}

func PlayChordChange() {
	if disabled.Load() {
		return
	}
	soundOnce.Do(initSound)
	playBytes(chordSamples)
}
