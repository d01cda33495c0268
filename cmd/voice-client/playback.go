package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// scheduler tracks where the next audio chunk would start playing. The
// next-start clock only moves forward: a chunk scheduled while audio is
// still queued starts when the queue drains, never before now and never
// behind an earlier chunk. Interrupt drops the queue so the next chunk
// starts immediately.
type scheduler struct {
	mu        sync.Mutex
	now       func() time.Time
	nextStart time.Time
}

func newScheduler(now func() time.Time) *scheduler {
	if now == nil {
		now = time.Now
	}
	return &scheduler{now: now}
}

// Schedule reserves playback time for a chunk of the given duration and
// returns when it starts.
func (s *scheduler) Schedule(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.now()
	if s.nextStart.After(start) {
		start = s.nextStart
	}
	s.nextStart = start.Add(d)
	return start
}

// Interrupt flushes the schedule. The next chunk starts at now.
func (s *scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextStart = time.Time{}
}

// BufferedAhead reports how much queued audio is still unplayed.
func (s *scheduler) BufferedAhead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	ahead := s.nextStart.Sub(s.now())
	if ahead < 0 {
		return 0
	}
	return ahead
}

type playerConfig struct {
	sampleRateHz   int
	channels       int
	bytesPerSample int

	noSpeaker      bool
	ffplayPath     string
	ffplayLogLevel string
	ffplayVolume   int
	debug          bool
}

// player feeds assistant PCM to the speaker while the scheduler tracks the
// playback horizon so interrupts can flush cleanly.
type player struct {
	cfg     playerConfig
	sched   *scheduler
	speaker *ffplaySpeaker

	errCh chan error
}

func newPlayer(cfg playerConfig) *player {
	if cfg.sampleRateHz <= 0 {
		cfg.sampleRateHz = 24000
	}
	if cfg.channels <= 0 {
		cfg.channels = 1
	}
	if cfg.bytesPerSample <= 0 {
		cfg.bytesPerSample = 2
	}
	if strings.TrimSpace(cfg.ffplayPath) == "" {
		cfg.ffplayPath = "ffplay"
	}
	if strings.TrimSpace(cfg.ffplayLogLevel) == "" {
		cfg.ffplayLogLevel = "error"
	}
	if cfg.ffplayVolume <= 0 {
		cfg.ffplayVolume = 80
	}

	p := &player{
		cfg:   cfg,
		sched: newScheduler(time.Now),
		errCh: make(chan error, 1),
	}
	if !cfg.noSpeaker {
		p.speaker = newFFPlaySpeaker(cfg.ffplayPath, cfg.sampleRateHz, cfg.channels, cfg.ffplayLogLevel, cfg.ffplayVolume, cfg.debug)
		if err := p.speaker.Start(); err != nil {
			p.emitErr(err)
		}
	}
	return p
}

func (p *player) ErrCh() <-chan error {
	return p.errCh
}

func (p *player) Play(pcm []byte) {
	if p == nil || len(pcm) == 0 {
		return
	}
	p.sched.Schedule(p.pcmDuration(len(pcm)))
	if p.speaker != nil {
		if err := p.speaker.Write(pcm); err != nil {
			p.emitErr(err)
		}
	}
}

// Interrupt flushes queued audio. ffplay has no flush control, so the
// speaker process is restarted, which drops its buffered input.
func (p *player) Interrupt() {
	if p == nil {
		return
	}
	p.sched.Interrupt()
	if p.speaker != nil {
		if err := p.speaker.Restart(); err != nil {
			p.emitErr(err)
		}
	}
}

func (p *player) Close() error {
	if p == nil {
		return nil
	}
	if p.speaker != nil {
		return p.speaker.Close()
	}
	return nil
}

func (p *player) pcmDuration(n int) time.Duration {
	bytesPerSecond := p.cfg.sampleRateHz * p.cfg.channels * p.cfg.bytesPerSample
	if bytesPerSecond <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

func (p *player) emitErr(err error) {
	if err == nil {
		return
	}
	select {
	case p.errCh <- err:
	default:
	}
}

type ffplaySpeaker struct {
	path       string
	sampleRate int
	channels   int
	logLevel   string
	volume     int
	debug      bool

	runningMu sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
}

func newFFPlaySpeaker(path string, sampleRate, channels int, logLevel string, volume int, debug bool) *ffplaySpeaker {
	return &ffplaySpeaker{path: path, sampleRate: sampleRate, channels: channels, logLevel: logLevel, volume: volume, debug: debug}
}

func (s *ffplaySpeaker) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.startLocked()
}

func (s *ffplaySpeaker) startLocked() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	// ffplay does not accept ffmpeg-style `-ac`; use `-ch_layout`.
	chLayout := "mono"
	if s.channels == 2 {
		chLayout = "stereo"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", s.logLevel,
		"-nostats",
		"-volume", fmt.Sprintf("%d", s.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", chLayout,
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.path, args...)
	if runtime.GOOS == "darwin" {
		// SDL can pick a silent dummy audio backend on macOS; prefer
		// CoreAudio unless the user overrides it.
		if os.Getenv("SDL_AUDIODRIVER") == "" {
			cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}
	if s.debug && cmd.Process != nil {
		fmt.Fprintf(os.Stderr, "[debug] ffplay started pid=%d (%s %s)\n", cmd.Process.Pid, s.path, strings.Join(args, " "))
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.runningMu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.runningMu.Unlock()
	}(cmd)
	return nil
}

func (s *ffplaySpeaker) Write(p []byte) error {
	if s == nil || len(p) == 0 {
		return nil
	}
	s.runningMu.Lock()
	stdin := s.stdin
	s.runningMu.Unlock()
	if stdin == nil {
		return fmt.Errorf("ffplay is not running")
	}
	_, err := stdin.Write(p)
	return err
}

func (s *ffplaySpeaker) Restart() error {
	if s == nil {
		return nil
	}
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	_ = s.closeLocked()
	return s.startLocked()
}

func (s *ffplaySpeaker) Close() error {
	if s == nil {
		return nil
	}
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.closeLocked()
}

func (s *ffplaySpeaker) closeLocked() error {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
	return nil
}
