package naming

import "autorename/internal/transport"

// DefaultFileName names uploads that arrived without a filename.
func DefaultFileName(kind transport.MediaKind, fileID string) string {
	short := fileID
	if len(short) > 8 {
		short = short[:8]
	}
	switch kind {
	case transport.KindVideo:
		return "video_" + short + ".mp4"
	case transport.KindAudio:
		return "audio_" + short + ".mp3"
	default:
		return "document_" + short
	}
}

// DeliveryKind picks how the renamed file is sent. A stored preference wins;
// otherwise videos go back as video and everything else as a document.
func DeliveryKind(inbound transport.MediaKind, preference string) transport.MediaKind {
	switch transport.MediaKind(preference) {
	case transport.KindVideo, transport.KindDocument:
		return transport.MediaKind(preference)
	}
	if inbound == transport.KindVideo {
		return transport.KindVideo
	}
	return transport.KindDocument
}
