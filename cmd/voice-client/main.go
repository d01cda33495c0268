// Command voice-client is a terminal client for the voice gateway. It dials
// the gateway WebSocket, streams microphone PCM captured through ffmpeg, and
// plays assistant audio through ffplay.
package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/counselhub/voice-agent/pkg/gateway/protocol"
)

const (
	micSampleRateHz = 16000
	outSampleRateHz = 24000
	micFrameBytes   = 3200 // 100ms of 16-bit mono at 16kHz
)

type clientOptions struct {
	gatewayURL string
	sessionID  string
	micDevice  string
	noMic      bool
	noSpeaker  bool
	volume     int
	debug      bool
}

func parseFlags(args []string) (clientOptions, error) {
	var opts clientOptions
	fs := flag.NewFlagSet("voice-client", flag.ContinueOnError)
	fs.StringVar(&opts.gatewayURL, "url", "ws://localhost:3001/api/voice/ws", "gateway websocket url")
	fs.StringVar(&opts.sessionID, "session", "", "existing session id (omit to create a new session)")
	fs.StringVar(&opts.micDevice, "mic-device", "", "microphone device for ffmpeg capture")
	fs.BoolVar(&opts.noMic, "no-mic", false, "do not capture microphone audio")
	fs.BoolVar(&opts.noSpeaker, "no-speaker", false, "do not play assistant audio")
	fs.IntVar(&opts.volume, "volume", 80, "ffplay volume (0-100)")
	fs.BoolVar(&opts.debug, "debug", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func dialURL(opts clientOptions) (string, error) {
	u, err := url.Parse(opts.gatewayURL)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	if opts.sessionID != "" {
		q := u.Query()
		q.Set("sessionId", opts.sessionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// conn serializes writes to the websocket. gorilla allows at most one
// concurrent writer, and the mic loop and the control path both send.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) sendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "voice-client: %v\n", err)
		os.Exit(1)
	}
}

func run(opts clientOptions) error {
	target, err := dialURL(opts)
	if err != nil {
		return err
	}

	fmt.Printf("dialing %s\n", target)
	ws, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	c := &conn{ws: ws}
	defer ws.Close()

	pl := newPlayer(playerConfig{
		sampleRateHz: outSampleRateHz,
		noSpeaker:    opts.noSpeaker,
		ffplayVolume: opts.volume,
		debug:        opts.debug,
	})
	defer pl.Close()

	if err := c.sendJSON(protocol.ClientConnect{Type: "connect"}); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- readLoop(c.ws, pl, opts.debug)
	}()

	micErrCh := make(chan error, 1)
	micStop := make(chan struct{})
	if opts.noMic {
		fmt.Println("microphone capture disabled")
	} else {
		go func() {
			micErrCh <- streamMicLoop(c, opts, micStop)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		fmt.Printf("\nreceived %s, disconnecting\n", sig)
	case err := <-readErrCh:
		close(micStop)
		if err != nil && err != io.EOF {
			return fmt.Errorf("read loop: %w", err)
		}
		return nil
	case err := <-micErrCh:
		if err != nil {
			return fmt.Errorf("microphone: %w", err)
		}
	case err := <-pl.ErrCh():
		return fmt.Errorf("playback: %w", err)
	}

	close(micStop)
	_ = c.sendJSON(protocol.ClientDisconnect{Type: "disconnect"})

	select {
	case <-readErrCh:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// readLoop decodes server frames and drives the player and the terminal
// transcript. It returns when the socket closes.
func readLoop(ws *websocket.Conn, pl *player, debug bool) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			if debug {
				fmt.Fprintf(os.Stderr, "[debug] undecodable frame: %s\n", data)
			}
			continue
		}

		switch envelope.Type {
		case "status":
			var msg protocol.ServerStatus
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Data.Message != "" {
				fmt.Printf("[%s] %s\n", msg.Data.Status, msg.Data.Message)
			} else {
				fmt.Printf("[%s]\n", msg.Data.Status)
			}
			if msg.Data.Status == protocol.StatusDisconnected {
				return nil
			}
		case "audio":
			var msg protocol.ServerAudio
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Data.Interrupt {
				if debug {
					fmt.Fprintln(os.Stderr, "[debug] interrupt, flushing playback")
				}
				pl.Interrupt()
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(msg.Data.Audio)
			if err != nil {
				if debug {
					fmt.Fprintf(os.Stderr, "[debug] bad audio payload: %v\n", err)
				}
				continue
			}
			pl.Play(pcm)
		case "transcription":
			var msg protocol.ServerTranscription
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			printTranscription(msg.Data)
		case "function_call":
			var msg protocol.ServerFunctionCall
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			args, _ := json.Marshal(msg.Data.Args)
			fmt.Printf("[tool] %s %s\n", msg.Data.Name, args)
		case "error":
			var msg protocol.ServerErrorFrame
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			fmt.Fprintf(os.Stderr, "[error] %s: %s\n", msg.Data.Code, msg.Data.Message)
		case "pong":
		default:
			if debug {
				fmt.Fprintf(os.Stderr, "[debug] unknown frame type %q\n", envelope.Type)
			}
		}
	}
}

func printTranscription(d protocol.TranscriptionData) {
	who := "assistant"
	if d.IsUser {
		who = "you"
	}
	if d.IsFinal {
		fmt.Printf("%s: %s\n", who, d.Text)
	} else {
		fmt.Printf("%s (partial): %s\r", who, d.Text)
	}
}

// streamMicLoop captures microphone PCM through an ffmpeg pipe and sends
// 100ms frames until stop closes or the capture process exits.
func streamMicLoop(c *conn, opts clientOptions, stop <-chan struct{}) error {
	cmd := exec.Command("ffmpeg", micCaptureArgs(opts)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if opts.debug {
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stderr = io.Discard
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg capture: %w", err)
	}
	defer func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}()

	fmt.Println("microphone streaming (ctrl-c to stop)")

	reader := bufio.NewReaderSize(stdout, micFrameBytes*4)
	frame := make([]byte, micFrameBytes)
	mimeType := fmt.Sprintf("audio/pcm;rate=%d", micSampleRateHz)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if _, err := io.ReadFull(reader, frame); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		msg := protocol.ClientAudio{
			Type: "audio",
			Data: protocol.AudioPayload{
				Data:     base64.StdEncoding.EncodeToString(frame),
				MIMEType: mimeType,
			},
		}
		if err := c.sendJSON(msg); err != nil {
			return err
		}
	}
}

func micCaptureArgs(opts clientOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	switch runtime.GOOS {
	case "darwin":
		device := opts.micDevice
		if device == "" {
			device = "0"
		}
		args = append(args, "-f", "avfoundation", "-i", "none:"+device)
	default:
		device := opts.micDevice
		if device == "" {
			device = "default"
		}
		args = append(args, "-f", "pulse", "-i", device)
	}
	args = append(args,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", micSampleRateHz),
		"-f", "s16le",
		"-",
	)
	return args
}
