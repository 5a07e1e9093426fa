package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
)

// PCMConfig describes a raw PCM16 little-endian mono stream.
type PCMConfig struct {
	SampleRate int          `mapstructure:"sample_rate"`
	WindowSize int          `mapstructure:"window_size"`
	ReadSize   int          `mapstructure:"read_size"`
	Logger     *slog.Logger `mapstructure:"-"`
}

// PCMSource reads PCM16 LE from an io.Reader (a device pipe, a file, stdin)
// and keeps the latest analysis window in memory.
type PCMSource struct {
	r      io.Reader
	closer io.Closer
	cfg    PCMConfig
	sink   io.Writer
	logger *slog.Logger

	mu     sync.Mutex
	window []int16
	filled int
	err    error

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewPCMSource starts reading r in the background. Every chunk read is
// copied to sink (usually the capture Buffer).
func NewPCMSource(ctx context.Context, r io.Reader, sink io.Writer, cfg PCMConfig) *PCMSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = cfg.WindowSize * 2
	}
	if sink == nil {
		sink = io.Discard
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &PCMSource{
		r:      r,
		cfg:    cfg,
		sink:   sink,
		logger: logging.NewComponentLogger(cfg.Logger, "audio.pcm"),
		window: make([]int16, cfg.WindowSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	go s.readLoop(ctx)
	return s
}

func (s *PCMSource) readLoop(ctx context.Context) {
	defer close(s.done)
	buf := make([]byte, s.cfg.ReadSize)
	var carry []byte
	for {
		if ctx.Err() != nil {
			s.setErr(ErrSignalUnavailable)
			return
		}
		n, err := s.r.Read(buf)
		if n > 0 {
			_, _ = s.sink.Write(buf[:n])
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			s.push(data[:even])
			carry = append(carry[:0], data[even:]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.setErr(ErrSignalUnavailable)
			} else {
				s.logger.Warn("pcm_read_failed", "error", err)
				s.setErr(errorsx.Wrap(err, errorsx.ReasonSignalUnavailable))
			}
			return
		}
	}
}

func (s *PCMSource) push(raw []byte) {
	if len(raw) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(raw) / 2
	size := len(s.window)
	if count >= size {
		raw = raw[(count-size)*2:]
		count = size
	} else {
		copy(s.window, s.window[count:])
	}
	offset := size - count
	for i := 0; i < count; i++ {
		s.window[offset+i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	s.filled += count
	if s.filled > size {
		s.filled = size
	}
}

func (s *PCMSource) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Window returns the last WindowSize samples. Until any audio arrives, or
// once the stream ended, it reports ErrSignalUnavailable.
func (s *PCMSource) Window() ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.filled == 0 {
		return nil, ErrSignalUnavailable
	}
	out := make([]int16, s.filled)
	copy(out, s.window[len(s.window)-s.filled:])
	return out, nil
}

func (s *PCMSource) SampleRate() int {
	return s.cfg.SampleRate
}

func (s *PCMSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if s.closer != nil {
			err = s.closer.Close()
		}
		s.setErr(ErrSignalUnavailable)
	})
	return err
}

// Done is closed when the read loop exits.
func (s *PCMSource) Done() <-chan struct{} {
	return s.done
}

// FileOpener opens a PCM device node, FIFO or file path. "-" reads stdin.
type FileOpener struct {
	Path   string
	Config PCMConfig
}

func (o FileOpener) Open(ctx context.Context, capture *Buffer) (Source, error) {
	var r io.Reader
	if o.Path == "" || o.Path == "-" {
		r = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(o.Path)
		if err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("open %s: %w", o.Path, err), errorsx.ReasonMicUnavailable)
		}
		r = f
	}
	var sink io.Writer
	if capture != nil {
		sink = capture
	}
	return NewPCMSource(ctx, r, sink, o.Config), nil
}
