package encode

// Strategy is one rung of the encoding ladder: a named set of FFmpeg
// parameters plus the container it produces. Ladders are declarative so
// they can be inspected and tested in isolation.
type Strategy struct {
	Name   string   // Identifier for logging ("mp3-standard", "pcm", ...).
	Ext    string   // File extension of the produced output.
	Muxer  string   // FFmpeg -f muxer name.
	Codec  []string // Codec and quality arguments.
}

// largeFileLadder trades fidelity for speed: mono, downsampled, low bitrate,
// with uncompressed PCM as the rung of last resort.
var largeFileLadder = []Strategy{
	{
		Name:  "mp3-economy",
		Ext:   "mp3",
		Muxer: "mp3",
		Codec: []string{"-c:a", "libmp3lame", "-b:a", "64k", "-ac", "1", "-ar", "16000"},
	},
	{
		Name:  "mp3-compact",
		Ext:   "mp3",
		Muxer: "mp3",
		Codec: []string{"-c:a", "libmp3lame", "-b:a", "96k", "-ac", "1", "-ar", "16000"},
	},
	{
		Name:  "pcm",
		Ext:   "wav",
		Muxer: "wav",
		Codec: []string{"-c:a", "pcm_s16le"},
	},
}

// smallFileLadder starts at standard quality with the source's channel
// layout and sample rate intact.
var smallFileLadder = []Strategy{
	{
		Name:  "mp3-standard",
		Ext:   "mp3",
		Muxer: "mp3",
		Codec: []string{"-c:a", "libmp3lame", "-b:a", "128k"},
	},
	{
		Name:  "mp3-basic",
		Ext:   "mp3",
		Muxer: "mp3",
		Codec: []string{"-c:a", "libmp3lame", "-b:a", "96k", "-ac", "1"},
	},
	{
		Name:  "pcm",
		Ext:   "wav",
		Muxer: "wav",
		Codec: []string{"-c:a", "pcm_s16le"},
	},
}

// LadderFor selects the strategy ladder for a source of the given size.
// The returned slice is shared; callers must not modify it.
func LadderFor(sizeBytes, largeFileBytes int64) []Strategy {
	if sizeBytes > largeFileBytes {
		return largeFileLadder
	}
	return smallFileLadder
}
