package media

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/rs/zerolog/log"

	"github.com/iambigmarn/realtime-app/internal/core"
	"github.com/iambigmarn/realtime-app/internal/session"
)

// FileSink records each peer's VP8 track into <dir>/<participant>.ivf,
// the headless stand-in for rendering remote video. Non-VP8 tracks are
// ignored with a log line.
type FileSink struct {
	dir string

	mu      sync.Mutex
	writers map[core.ParticipantID]*ivfwriter.IVFWriter
}

var _ session.VideoDisplay = (*FileSink)(nil)

func NewFileSink(dir string) *FileSink {
	return &FileSink{
		dir:     dir,
		writers: make(map[core.ParticipantID]*ivfwriter.IVFWriter),
	}
}

func (s *FileSink) Upsert(id core.ParticipantID, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeVideo || !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeVP8) {
		log.Debug().
			Str("service", "media").
			Str("participant", id.String()).
			Str("mime", track.Codec().MimeType).
			Msg("track kind not recorded")
		return
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s.ivf", id))
	writer, err := ivfwriter.New(path)
	if err != nil {
		log.Error().Err(err).Str("service", "media").Str("participant", id.String()).Msg("create ivf writer")
		return
	}

	s.mu.Lock()
	if old, ok := s.writers[id]; ok {
		if err := old.Close(); err != nil {
			log.Error().Err(err).Str("service", "media").Str("participant", id.String()).Msg("close previous recording")
		}
	}
	s.writers[id] = writer
	s.mu.Unlock()

	log.Info().Str("service", "media").Str("participant", id.String()).Str("path", path).Msg("recording peer video")

	go s.record(id, track, writer)
}

func (s *FileSink) Remove(id core.ParticipantID) {
	s.mu.Lock()
	writer, ok := s.writers[id]
	delete(s.writers, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Str("service", "media").Str("participant", id.String()).Msg("close recording")
	}
}

// record drains the track into the writer. The loop ends when the link
// is torn down (read error) or the writer was closed by Remove.
func (s *FileSink) record(id core.ParticipantID, track *webrtc.TrackRemote, writer *ivfwriter.IVFWriter) {
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("service", "media").Str("participant", id.String()).Msg("recording finished")
			return
		}

		if err := writer.WriteRTP(packet); err != nil {
			log.Debug().Err(err).Str("service", "media").Str("participant", id.String()).Msg("recording stopped")
			return
		}
	}
}
