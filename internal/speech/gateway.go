// Package speech turns uploaded recordings and live microphone streams into
// text. Every failure is reported as ErrNoSpeech, ErrUnintelligible or a
// *ServiceError so callers can ask the user to retry.
package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"
)

var (
	ErrNoSpeech       = errors.New("no speech detected")
	ErrUnintelligible = errors.New("speech could not be understood")
)

// ServiceError is a failure talking to the recognition backend or reading the
// audio source.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("speech %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Transcriber converts a complete audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}

const (
	defaultCalibration  = time.Second
	defaultStartTimeout = 5 * time.Second
	defaultPhraseLimit  = 15 * time.Second

	chunkSize = 4096

	// Speech starts when a chunk is this much louder than the ambient level.
	energyRatio   = 1.5
	minEnergy     = 300.0
	listenSlack   = 2 * time.Second
	liveAudioName = "live.wav"
)

type Gateway struct {
	transcriber  Transcriber
	sampleRate   int
	calibration  time.Duration
	startTimeout time.Duration
	phraseLimit  time.Duration
	logger       *slog.Logger
}

type GatewayOption func(*Gateway)

// WithListenWindows overrides the calibration, pre-speech and phrase limits.
func WithListenWindows(calibration, startTimeout, phraseLimit time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.calibration = calibration
		g.startTimeout = startTimeout
		g.phraseLimit = phraseLimit
	}
}

// NewGateway expects live audio as 16-bit little-endian mono PCM at
// sampleRate.
func NewGateway(t Transcriber, sampleRate int, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		transcriber:  t,
		sampleRate:   sampleRate,
		calibration:  defaultCalibration,
		startTimeout: defaultStartTimeout,
		phraseLimit:  defaultPhraseLimit,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TranscribeFile transcribes an uploaded recording.
func (g *Gateway) TranscribeFile(ctx context.Context, audio []byte, filename, locale string) (string, error) {
	if len(audio) == 0 {
		return "", ErrUnintelligible
	}
	return g.transcribe(ctx, audio, filename, locale)
}

// ListenLive consumes a live PCM stream. The first calibration window sets
// the ambient noise level and is discarded. If speech does not start within
// the start timeout the result is ErrNoSpeech; once it starts, capture stops
// at the phrase limit, at end of stream, or when the stream stalls.
func (g *Gateway) ListenLive(ctx context.Context, src io.Reader, locale string) (string, error) {
	listenCtx, cancel := context.WithTimeout(ctx, g.calibration+g.startTimeout+g.phraseLimit+listenSlack)
	defer cancel()

	chunks, readErr := readChunks(listenCtx, src)

	bytesPerSecond := g.sampleRate * 2
	calibrationBytes := durationBytes(g.calibration, bytesPerSecond)
	startBytes := durationBytes(g.startTimeout, bytesPerSecond)
	phraseBytes := durationBytes(g.phraseLimit, bytesPerSecond)

	var (
		ambient   []byte
		waited    int
		threshold float64 = minEnergy
		captured  []byte
		capturing bool
	)

	idle := time.NewTimer(g.startTimeout)
	defer idle.Stop()

loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if err := <-readErr; err != nil && !capturing {
					return "", &ServiceError{Op: "listen", Err: err}
				}
				break loop
			}
			idle.Reset(g.startTimeout)

			if len(ambient) < calibrationBytes {
				take := min(calibrationBytes-len(ambient), len(chunk))
				ambient = append(ambient, chunk[:take]...)
				chunk = chunk[take:]
				if len(ambient) < calibrationBytes {
					continue
				}
				threshold = math.Max(rms(ambient)*energyRatio, minEnergy)
				g.logger.Debug("ambient calibration done", "threshold", threshold)
			}
			if len(chunk) == 0 {
				continue
			}

			if !capturing {
				if rms(chunk) < threshold {
					waited += len(chunk)
					if waited >= startBytes {
						return "", ErrNoSpeech
					}
					continue
				}
				capturing = true
			}

			captured = append(captured, chunk...)
			if len(captured) >= phraseBytes {
				captured = captured[:phraseBytes]
				break loop
			}

		case <-idle.C:
			if capturing {
				break loop
			}
			return "", ErrNoSpeech

		case <-listenCtx.Done():
			if ctx.Err() != nil {
				return "", &ServiceError{Op: "listen", Err: ctx.Err()}
			}
			if capturing {
				break loop
			}
			return "", ErrNoSpeech
		}
	}

	if !capturing {
		return "", ErrNoSpeech
	}
	return g.transcribe(ctx, encodeWAV(captured, g.sampleRate), liveAudioName, locale)
}

func (g *Gateway) transcribe(ctx context.Context, audio []byte, filename, locale string) (string, error) {
	text, err := g.transcriber.Transcribe(ctx, audio, filename, apiLanguage(locale))
	if err == nil {
		return text, nil
	}

	var svcErr *ServiceError
	switch {
	case errors.Is(err, ErrUnintelligible), errors.Is(err, ErrNoSpeech):
		return "", err
	case errors.As(err, &svcErr):
		g.logger.Warn("speech service failed", "op", svcErr.Op, "err", svcErr.Err)
		return "", err
	default:
		g.logger.Warn("speech service failed", "err", err)
		return "", &ServiceError{Op: "transcribe", Err: err}
	}
}

// readChunks pumps src into a channel until EOF, error, or ctx is done. The
// pending Read is abandoned on cancellation; closing src unblocks it.
func readChunks(ctx context.Context, src io.Reader) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, chunkSize)
			n, err := src.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					errc <- nil
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				errc <- err
				return
			}
		}
	}()

	return chunks, errc
}

func durationBytes(d time.Duration, bytesPerSecond int) int {
	n := int(d.Seconds() * float64(bytesPerSecond))
	return n &^ 1
}

// rms is the root mean square amplitude of little-endian 16-bit samples.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// apiLanguage reduces a locale such as "hi-IN" to its language subtag.
func apiLanguage(locale string) string {
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}
