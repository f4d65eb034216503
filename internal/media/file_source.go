package media

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/iambigmarn/realtime-app/internal/session"
)

const (
	oggPageDuration = 20 * time.Millisecond
	audioSampleRate = 48000
)

var errNoMediaConfigured = errors.New("no media files configured")

// FileSource publishes prerecorded media as the local stream: a VP8
// video clip from an IVF file and an opus audio clip from an OGG file.
// Both loop forever. It stands in for camera and microphone capture on
// headless peers.
type FileSource struct {
	videoPath string
	audioPath string
}

type FileSourceOptions struct {
	// VideoPath points at an IVF file carrying VP8 frames. Empty skips
	// video.
	VideoPath string
	// AudioPath points at an OGG file carrying opus pages. Empty skips
	// audio.
	AudioPath string
}

func NewFileSource(options FileSourceOptions) *FileSource {
	return &FileSource{
		videoPath: options.VideoPath,
		audioPath: options.AudioPath,
	}
}

// Acquire verifies the clips are readable, builds the local tracks and
// starts the pacing loops. The loops stop when ctx is cancelled.
func (s *FileSource) Acquire(ctx context.Context) (*session.LocalStream, error) {
	if s.videoPath == "" && s.audioPath == "" {
		return nil, errNoMediaConfigured
	}

	stream := &session.LocalStream{}

	if s.videoPath != "" {
		if _, err := os.Stat(s.videoPath); err != nil {
			return nil, err
		}

		videoTrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "realtime",
		)
		if err != nil {
			return nil, err
		}
		stream.Video = videoTrack

		go s.streamVideo(ctx, videoTrack)
	}

	if s.audioPath != "" {
		if _, err := os.Stat(s.audioPath); err != nil {
			return nil, err
		}

		audioTrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "realtime",
		)
		if err != nil {
			return nil, err
		}
		stream.Audio = audioTrack

		go s.streamAudio(ctx, audioTrack)
	}

	return stream, nil
}

func (s *FileSource) streamVideo(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	file, err := os.Open(s.videoPath)
	if err != nil {
		log.Error().Err(err).Str("service", "media").Msg("open video clip")
		return
	}
	defer file.Close()

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		log.Error().Err(err).Str("service", "media").Msg("read ivf header")
		return
	}

	// Send the clip frame at a time, paced so it goes out at the speed
	// it should be played back at.
	ticker := time.NewTicker(time.Millisecond * time.Duration((float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			// loop the clip
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				log.Error().Err(err).Str("service", "media").Msg("rewind video clip")
				return
			}
			if ivf, _, err = ivfreader.NewWith(file); err != nil {
				log.Error().Err(err).Str("service", "media").Msg("reopen video clip")
				return
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("service", "media").Msg("parse video frame")
			return
		}

		if err := track.WriteSample(media.Sample{Data: frame, Duration: time.Second}); err != nil {
			log.Debug().Err(err).Str("service", "media").Msg("write video sample")
			return
		}
	}
}

func (s *FileSource) streamAudio(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	file, err := os.Open(s.audioPath)
	if err != nil {
		log.Error().Err(err).Str("service", "media").Msg("open audio clip")
		return
	}
	defer file.Close()

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		log.Error().Err(err).Str("service", "media").Msg("read ogg header")
		return
	}

	// Granule positions pace the pages: each sample's duration is the
	// granule delta at 48kHz.
	var lastGranule uint64

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				log.Error().Err(err).Str("service", "media").Msg("rewind audio clip")
				return
			}
			if ogg, _, err = oggreader.NewWith(file); err != nil {
				log.Error().Err(err).Str("service", "media").Msg("reopen audio clip")
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("service", "media").Msg("parse audio page")
			return
		}

		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration((sampleCount/audioSampleRate)*1000) * time.Millisecond

		if err := track.WriteSample(media.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			log.Debug().Err(err).Str("service", "media").Msg("write audio sample")
			return
		}
	}
}
