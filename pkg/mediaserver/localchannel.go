package mediaserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/asp-voice/bridge/pkg/audio"
)

// LocalChannel is a MediaChannel backed by the local machine's
// microphone/speaker via malgo, generalized from a single hard-wired
// duplex callback into the MediaChannel capability so pkg/mediaserver's
// driver can treat it the same as an RTP leg.
type LocalChannel struct {
	sampleRate int
	frameMs    int

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	framer   *audio.Framer

	frameCh chan []byte

	playMu      sync.Mutex
	playbackBuf []byte
}

// NewLocalChannel opens a duplex audio device at sampleRate, emitting
// fixed frameMs PCM frames.
func NewLocalChannel(sampleRate, frameMs int) (*LocalChannel, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("mediaserver: init audio context: %w", err)
	}

	lc := &LocalChannel{
		sampleRate: sampleRate,
		frameMs:    frameMs,
		malgoCtx:   mctx,
		framer:     audio.NewFramer(sampleRate, frameMs),
		frameCh:    make(chan []byte, 64),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: lc.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("mediaserver: init audio device: %w", err)
	}
	lc.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, fmt.Errorf("mediaserver: start audio device: %w", err)
	}
	return lc, nil
}

func (lc *LocalChannel) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pInput != nil {
		for _, frame := range lc.framer.Push(pInput) {
			select {
			case lc.frameCh <- frame:
			default:
				// capture outrunning the reader: drop oldest rather than
				// block the audio callback thread.
				select {
				case <-lc.frameCh:
				default:
				}
				lc.frameCh <- frame
			}
		}
	}
	if pOutput != nil {
		lc.playMu.Lock()
		n := copy(pOutput, lc.playbackBuf)
		lc.playbackBuf = lc.playbackBuf[n:]
		lc.playMu.Unlock()
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
	}
}

func (lc *LocalChannel) SampleRate() int { return lc.sampleRate }
func (lc *LocalChannel) FrameMs() int    { return lc.frameMs }

func (lc *LocalChannel) Frames(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-lc.frameCh:
				if !ok {
					return
				}
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (lc *LocalChannel) Play(frame []byte) error {
	lc.playMu.Lock()
	defer lc.playMu.Unlock()
	lc.playbackBuf = append(lc.playbackBuf, frame...)
	return nil
}

func (lc *LocalChannel) Flush() {
	lc.playMu.Lock()
	lc.playbackBuf = nil
	lc.playMu.Unlock()
}

func (lc *LocalChannel) Close() error {
	lc.device.Uninit()
	lc.malgoCtx.Uninit()
	close(lc.frameCh)
	return nil
}
