// Command restreamer-voice-probe is a standalone diagnostic that captures
// microphone audio with PortAudio, round-trips it through an Opus
// encoder/decoder, and writes the decoded 48kHz stereo f32 little-endian
// PCM to stdout in the exact wire format the Auxiliary Audio Ingest
// component feeds into a mixin's FIFO. It demonstrates the codec wiring
// that a production voicechat.Codec implementation would perform; the
// server itself never imports PortAudio or Opus directly.
//
// Usage:
//
//	restreamer-voice-probe --seconds=5 > capture.pcm
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"gopkg.in/hraban/opus.v2"
)

const (
	sampleRate  = 48000
	channels    = 2
	frameSize   = 960 // 20ms @ 48kHz, matching voicechat.FrameSize
	opusBitrate = 32000
)

var seconds = flag.Int("seconds", 5, "how many seconds of audio to probe-capture")

func main() {
	flag.Parse()

	if err := run(*seconds); err != nil {
		log.Fatalf("restreamer-voice-probe: %v", err)
	}
}

func run(durationSeconds int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		return fmt.Errorf("set opus bitrate: %w", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return fmt.Errorf("enable opus fec: %w", err)
	}

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("new opus decoder: %w", err)
	}

	inputDev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("default input device: %w", err)
	}

	captureBuf := make([]float32, frameSize*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: channels,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, captureBuf)
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start capture stream: %w", err)
	}
	defer stream.Stop()

	log.Printf("[probe] capturing from %s for %ds", inputDev.Name, durationSeconds)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, time.Duration(durationSeconds)*time.Second)
	defer cancel()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	pcm16 := make([]int16, frameSize*channels)
	opusData := make([]byte, 4000)
	decoded := make([]int16, frameSize*channels)
	wireFrame := make([]byte, frameSize*channels*4)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := stream.Read(); err != nil {
			return fmt.Errorf("read capture stream: %w", err)
		}
		floatToInt16(captureBuf, pcm16)

		n, err := enc.Encode(pcm16, opusData)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}

		frames, err := dec.Decode(opusData[:n], decoded)
		if err != nil {
			return fmt.Errorf("opus decode: %w", err)
		}

		int16ToWireFloat32LE(decoded[:frames*channels], wireFrame)
		if _, err := out.Write(wireFrame[:frames*channels*4]); err != nil {
			return fmt.Errorf("write wire frame: %w", err)
		}
	}
}

func floatToInt16(src []float32, dst []int16) {
	for i, v := range src {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = int16(v * math.MaxInt16)
	}
}

func int16ToWireFloat32LE(src []int16, dst []byte) {
	for i, v := range src {
		f := float32(v) / math.MaxInt16
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
}
