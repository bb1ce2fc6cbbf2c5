package descriptor

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// FileAllocator materializes a concrete, unique file path for a `file:`
// destination (Recording File Store, C9), keyed by the owning descriptor's
// (== output's) UUID since the destination URL itself only carries a bare
// filename. BuildArgs calls it only for `file://` destinations.
type FileAllocator func(outputID uuid.UUID, dst string) (string, error)

// pullArgs returns the input-side flags for fromURL: HLS sources get a
// realtime pacing flag, RTMP/RTMPS do not.
func pullArgs(fromURL string) []string {
	args := []string{}
	if strings.HasSuffix(strings.ToLower(fromURL), ".m3u8") || strings.HasPrefix(fromURL, "http") {
		args = append(args, "-re")
	}
	return append(args, "-i", fromURL)
}

// BuildArgs renders the full FFmpeg argument vector for d, excluding the
// binary name itself.
func (d *Descriptor) BuildArgs(fileAlloc FileAllocator) ([]string, error) {
	switch d.Kind {
	case KindCopy:
		return d.buildCopyArgs(fileAlloc)
	case KindTranscode:
		return d.buildTranscodeArgs()
	case KindMix:
		return d.buildMixArgs(fileAlloc)
	default:
		return nil, fmt.Errorf("unknown descriptor kind %v", d.Kind)
	}
}

func (d *Descriptor) buildCopyArgs(fileAlloc FileAllocator) ([]string, error) {
	args := append([]string{}, pullArgs(d.FromURL)...)
	args = append(args, "-c", "copy")
	pushArgs, err := pushSinkArgs(d.ID, d.ToURL, fileAlloc)
	if err != nil {
		return nil, err
	}
	return append(args, pushArgs...), nil
}

func (d *Descriptor) buildTranscodeArgs() ([]string, error) {
	args := append([]string{}, pullArgs(d.FromURL)...)
	args = append(args,
		"-c:v", d.VCodec,
		"-profile:v", d.VProfile,
		"-preset", d.VPreset,
		"-c:a", d.ACodec,
		"-f", "flv",
		d.ToURL,
	)
	return args, nil
}

// pushSinkArgs renders the sink-side (output) flags for a Copy process, per
// the destination scheme rules in §4.4: file -> materialized path via C9,
// icecast -> mp3 64k, rtmp(s) -> flv copy, srt -> mpegts copy.
func pushSinkArgs(id uuid.UUID, dst string, fileAlloc FileAllocator) ([]string, error) {
	u, err := url.Parse(dst)
	if err != nil {
		return nil, fmt.Errorf("parse destination url: %w", err)
	}
	switch u.Scheme {
	case "file":
		p, err := fileAlloc(id, dst)
		if err != nil {
			return nil, fmt.Errorf("allocate recording file: %w", err)
		}
		return []string{p}, nil
	case "icecast":
		return []string{"-c:a", "libmp3lame", "-b:a", "64k", "-f", "mp3", "-content_type", "audio/mpeg", dst}, nil
	case "rtmp", "rtmps":
		return []string{"-f", "flv", dst}, nil
	case "srt":
		return []string{"-strict", "-2", "-f", "mpegts", dst}, nil
	default:
		return nil, fmt.Errorf("unsupported output scheme %q", u.Scheme)
	}
}

// buildMixArgs assembles the N+1-input amix filter graph described in
// §4.4: one volume+control-socket filter per input (origin plus each
// mixin), an optional sidechain compressor, then a final amix step.
func (d *Descriptor) buildMixArgs(fileAlloc FileAllocator) ([]string, error) {
	args := []string{}

	origID := d.ID.String()
	filters := make([]string, 0, len(d.Mixins)+2)
	filters = append(filters, fmt.Sprintf(
		"[0:a]volume@%s=%s,%s[%s]",
		origID, d.OrigVolume.DisplayAsFraction(), controlFilter(d.OrigControlPort), origID,
	))
	args = append(args, "-i", d.FromURL)

	mixinIDs := make([]string, len(d.Mixins))
	for i, m := range d.Mixins {
		mixinID := m.ID.String()
		mixinIDs[i] = mixinID

		var extra string
		switch {
		case strings.HasPrefix(m.URL, "ts://"):
			extra = "aresample=async=1,"
			args = append(args,
				"-thread_queue_size", "512",
				"-f", "f32le",
				"-sample_rate", "48000",
				"-channels", "2",
				"-use_wallclock_as_timestamps", "true",
				"-i", fifoPath(m.ID.String()),
			)
		case strings.HasSuffix(strings.ToLower(path.Ext(m.URL)), "mp3"):
			extra = "aresample=48000,"
			args = append(args, "-i", m.URL)
		default:
			return nil, fmt.Errorf("unsupported mixin source %q", m.URL)
		}

		var delay string
		if m.Delay > 0 {
			delay = fmt.Sprintf("adelay=delays=%d:all=1,", m.Delay.Milliseconds())
		}

		filters = append(filters, fmt.Sprintf(
			"[%d:a]%svolume@%s=%s,%s%s[%s]",
			i+1, extra, mixinID, m.Volume.DisplayAsFraction(), delay, controlFilter(m.ControlPort), mixinID,
		))
	}

	finalOrigID := origID
	for i, m := range d.Mixins {
		if !m.Sidechain {
			continue
		}
		filters = append(filters, fmt.Sprintf(
			"[%s]asplit=2[sc][mix];[%s][sc]sidechaincompress=level_in=2:threshold=0.01:ratio=10:attack=10:release=1500[compr]",
			mixinIDs[i], finalOrigID,
		))
		mixinIDs[i] = "mix"
		finalOrigID = "compr"
		break // at most one sidechain mixin is allowed (invariant)
	}

	labels := "[" + finalOrigID + "]"
	for _, id := range mixinIDs {
		labels += "[" + id + "]"
	}
	filters = append(filters, fmt.Sprintf("%samix=inputs=%d:duration=longest[out]", labels, len(d.Mixins)+1))

	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "[out]",
		"-max_muxing_queue_size", "50000000",
	)

	pushArgs, err := mixPushSinkArgs(d.ID, d.ToURL, fileAlloc)
	if err != nil {
		return nil, err
	}
	return append(args, pushArgs...), nil
}

// mixPushSinkArgs is pushSinkArgs specialized for Mix output: audio is
// always re-encoded (it was just mixed), video is passed through.
func mixPushSinkArgs(id uuid.UUID, dst string, fileAlloc FileAllocator) ([]string, error) {
	u, err := url.Parse(dst)
	if err != nil {
		return nil, fmt.Errorf("parse destination url: %w", err)
	}
	switch u.Scheme {
	case "file":
		p, err := fileAlloc(id, dst)
		if err != nil {
			return nil, fmt.Errorf("allocate recording file: %w", err)
		}
		return []string{"-map", "0:v", "-c:a", "libfdk_aac", "-c:v", "copy", "-shortest", p}, nil
	case "icecast":
		return []string{"-c:a", "libmp3lame", "-b:a", "64k", "-f", "mp3", "-content_type", "audio/mpeg", dst}, nil
	case "rtmp", "rtmps":
		return []string{"-map", "0:v", "-c:a", "libfdk_aac", "-c:v", "copy", "-shortest", "-f", "flv", dst}, nil
	case "srt":
		return []string{"-map", "0:v", "-c:a", "libfdk_aac", "-c:v", "copy", "-shortest", "-strict", "-2", "-f", "mpegts", dst}, nil
	default:
		return nil, fmt.Errorf("unsupported output scheme %q", u.Scheme)
	}
}

// controlFilter renders the hot-tune control-socket filter bound to port,
// the Go-native replacement for the upstream's azmq filter (see REDESIGN
// FLAGS: plain TCP rather than ZeroMQ).
func controlFilter(port uint16) string {
	return fmt.Sprintf("ctrlsock=bind_address=tcp\\\\\\://127.0.0.1\\\\\\:%d", port)
}

// fifoPath returns the named-pipe path a voice-chat mixin is fed through,
// keyed by its mixin id so concurrent Mix processes never collide.
func fifoPath(mixinID string) string {
	return "/tmp/restreamer-mixin-" + mixinID + ".fifo"
}
