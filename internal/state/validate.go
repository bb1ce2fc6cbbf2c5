package state

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// keyPattern is shared by RestreamKey and InputKey.
var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,20}$`)

// ValidKey reports whether s satisfies the restream/input key charset.
func ValidKey(s string) bool {
	return keyPattern.MatchString(s)
}

// ValidateInputSrcURL enforces InputSrcUrl: rtmp(s)://host/... or
// http(s)://host/....m3u8.
func ValidateInputSrcURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid input source url: %w", err)
	}
	switch u.Scheme {
	case "rtmp", "rtmps":
		if u.Host == "" {
			return fmt.Errorf("input source url missing host: %s", raw)
		}
		return nil
	case "http", "https":
		if u.Host == "" || !strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") {
			return fmt.Errorf("http(s) input source url must end in .m3u8: %s", raw)
		}
		return nil
	default:
		return fmt.Errorf("unsupported input source scheme %q", u.Scheme)
	}
}

// ValidateOutputDstURL enforces OutputDstUrl: rtmp(s)|srt|icecast://host/...
// or file:///<name>.(flv|wav|mp3) with no subdirectories and no traversal.
func ValidateOutputDstURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid output destination url: %w", err)
	}
	switch u.Scheme {
	case "rtmp", "rtmps", "srt", "icecast":
		if u.Host == "" {
			return fmt.Errorf("output destination url missing host: %s", raw)
		}
		return nil
	case "file":
		name := strings.TrimPrefix(u.Path, "/")
		if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
			return fmt.Errorf("file output destination must be a bare filename: %s", raw)
		}
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".flv") && !strings.HasSuffix(lower, ".wav") && !strings.HasSuffix(lower, ".mp3") {
			return fmt.Errorf("file output destination must end in .flv/.wav/.mp3: %s", raw)
		}
		return nil
	default:
		return fmt.Errorf("unsupported output destination scheme %q", u.Scheme)
	}
}

// ValidateMixinSrcURL enforces MixinSrcUrl: ts://host/... or
// http(s)://host/....mp3.
func ValidateMixinSrcURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid mixin source url: %w", err)
	}
	switch u.Scheme {
	case "ts":
		if u.Host == "" {
			return fmt.Errorf("mixin source url missing host: %s", raw)
		}
		return nil
	case "http", "https":
		if u.Host == "" || !strings.HasSuffix(strings.ToLower(u.Path), ".mp3") {
			return fmt.Errorf("http(s) mixin source url must end in .mp3: %s", raw)
		}
		return nil
	default:
		return fmt.Errorf("unsupported mixin source scheme %q", u.Scheme)
	}
}

const (
	maxMixinsPerOutput    = 5
	maxTSMixinsPerOutput  = 3
	maxSidechainPerOutput = 1
)

// ValidateOutputMixins enforces the per-output mixin-count invariants.
func ValidateOutputMixins(mixins []*Mixin) error {
	if len(mixins) > maxMixinsPerOutput {
		return fmt.Errorf("too many mixins: %d > %d", len(mixins), maxMixinsPerOutput)
	}
	seen := make(map[string]struct{}, len(mixins))
	tsCount, sidechainCount := 0, 0
	for _, m := range mixins {
		if _, dup := seen[m.Src]; dup {
			return fmt.Errorf("duplicate mixin source: %s", m.Src)
		}
		seen[m.Src] = struct{}{}
		if strings.HasPrefix(m.Src, "ts://") {
			tsCount++
		}
		if m.Sidechain {
			sidechainCount++
		}
	}
	if tsCount > maxTSMixinsPerOutput {
		return fmt.Errorf("too many ts:// mixins: %d > %d", tsCount, maxTSMixinsPerOutput)
	}
	if sidechainCount > maxSidechainPerOutput {
		return fmt.Errorf("too many sidechain mixins: %d > %d", sidechainCount, maxSidechainPerOutput)
	}
	return nil
}
