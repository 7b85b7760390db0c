package sfu

import "github.com/pion/webrtc/v3"

// DefaultAudioCodecs is the baseline audio codec set registered on every
// media engine. Config-supplied codecs are prepended to these; duplicates
// by mime type are skipped.
func DefaultAudioCodecs() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
			PayloadType:        111,
		},
	}
}

// DefaultVideoCodecs is the baseline video codec set.
func DefaultVideoCodecs() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f"},
			PayloadType:        102,
		},
	}
}

// MergeCodecs prepends configured codecs to the defaults, dropping default
// entries whose mime type the configuration already covers.
func MergeCodecs(configured, defaults []webrtc.RTPCodecParameters) []webrtc.RTPCodecParameters {
	seen := make(map[string]struct{}, len(configured))
	out := make([]webrtc.RTPCodecParameters, 0, len(configured)+len(defaults))
	for _, c := range configured {
		seen[c.MimeType] = struct{}{}
		out = append(out, c)
	}
	for _, d := range defaults {
		if _, dup := seen[d.MimeType]; !dup {
			out = append(out, d)
		}
	}
	return out
}
