package deps

// FFmpegRequirement describes the metadata mux tool. It is optional: jobs
// still deliver when it is missing, only without rewritten tags.
func FFmpegRequirement(binary string) Requirement {
	return Requirement{
		Name:        "FFmpeg",
		Command:     binary,
		Fallback:    "ffmpeg",
		Description: "Rewrites container metadata tags",
		Optional:    true,
	}
}

// ResolveFFmpeg returns the executable path for the configured ffmpeg.
func ResolveFFmpeg(binary string) (string, error) {
	return Resolve(binary, "ffmpeg")
}

// CheckFFmpeg reports availability of the configured ffmpeg binary.
func CheckFFmpeg(binary string) Status {
	return Check(FFmpegRequirement(binary))
}
