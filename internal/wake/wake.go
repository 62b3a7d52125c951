// Package wake runs hotword detection on the default microphone and fires a
// callback when the keyword is heard.
package wake

import (
	"fmt"
	"strings"
	"sync"

	porcupine "github.com/Picovoice/porcupine/binding/go/v3"
	pvrecorder "github.com/Picovoice/pvrecorder/binding/go"
	"github.com/rs/zerolog"
)

// Options configures the listener.
type Options struct {
	AccessKey   string
	Keyword     string
	Sensitivity float32
}

// Listener owns the porcupine engine and the microphone stream.
type Listener struct {
	logger   zerolog.Logger
	engine   porcupine.Porcupine
	recorder *pvrecorder.PvRecorder
	onWake   func()

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// keywordFor maps a config keyword name to a built-in porcupine keyword.
func keywordFor(name string) porcupine.BuiltInKeyword {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "jarvis", "":
		return porcupine.JARVIS
	case "computer":
		return porcupine.COMPUTER
	case "picovoice":
		return porcupine.PICOVOICE
	default:
		return porcupine.JARVIS
	}
}

// New creates a listener. An empty access key is an error; the caller
// decides whether wake detection is optional.
func New(opts Options, onWake func(), logger zerolog.Logger) (*Listener, error) {
	if opts.AccessKey == "" {
		return nil, fmt.Errorf("wake: no access key configured")
	}
	sensitivity := opts.Sensitivity
	if sensitivity <= 0 || sensitivity > 1 {
		sensitivity = 0.5
	}

	engine := porcupine.Porcupine{
		AccessKey:       opts.AccessKey,
		BuiltInKeywords: []porcupine.BuiltInKeyword{keywordFor(opts.Keyword)},
		Sensitivities:   []float32{sensitivity},
	}
	if err := engine.Init(); err != nil {
		return nil, fmt.Errorf("wake: init porcupine: %w", err)
	}

	recorder := &pvrecorder.PvRecorder{
		DeviceIndex:    -1,
		FrameLength:    porcupine.FrameLength,
		BufferedFramesCount: 10,
	}
	if err := recorder.Init(); err != nil {
		engine.Delete()
		return nil, fmt.Errorf("wake: init recorder: %w", err)
	}

	return &Listener{
		logger:   logger.With().Str("component", "wake").Logger(),
		engine:   engine,
		recorder: recorder,
		onWake:   onWake,
		done:     make(chan struct{}),
	}, nil
}

// Start begins the detection loop in its own goroutine.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	if err := l.recorder.Start(); err != nil {
		return fmt.Errorf("wake: start recorder: %w", err)
	}
	l.running = true

	go l.loop()
	l.logger.Info().Msg("wake word detection started")
	return nil
}

func (l *Listener) loop() {
	for {
		select {
		case <-l.done:
			return
		default:
		}

		frame, err := l.recorder.Read()
		if err != nil {
			l.logger.Warn().Err(err).Msg("microphone read failed")
			return
		}
		idx, err := l.engine.Process(frame)
		if err != nil {
			l.logger.Warn().Err(err).Msg("wake processing failed")
			return
		}
		if idx >= 0 {
			l.logger.Info().Msg("wake word detected")
			if l.onWake != nil {
				l.onWake()
			}
		}
	}
}

// Stop ends the loop and releases the engine and microphone.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	close(l.done)

	l.recorder.Stop()
	l.recorder.Delete()
	l.engine.Delete()
	l.logger.Info().Msg("wake word detection stopped")
}
