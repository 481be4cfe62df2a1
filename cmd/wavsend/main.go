// Command wavsend streams a WAV file to a hearken server and prints the
// detection verdict. It is the quickest way to exercise a running server:
//
//	wavsend -server ws://localhost:10400 -models okay_nabu testdata/okay_nabu.wav
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-audio/wav"

	"github.com/hearken-audio/hearken/internal/protocol"
)

func main() {
	os.Exit(run())
}

func run() int {
	serverURL := flag.String("server", "ws://localhost:10400", "hearken server URL")
	models := flag.String("models", "", "comma-separated model names (empty = all loaded)")
	chunkMs := flag.Int("chunk", 80, "chunk size in milliseconds")
	realtime := flag.Bool("realtime", false, "pace chunks at playback speed")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: wavsend [flags] <file.wav>")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := send(ctx, *serverURL, flag.Arg(0), *models, *chunkMs, *realtime); err != nil {
		fmt.Fprintf(os.Stderr, "wavsend: %v\n", err)
		return 1
	}
	return 0
}

func send(ctx context.Context, serverURL, path, models string, chunkMs int, realtime bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if dec.BitDepth != 16 {
		return fmt.Errorf("%s: got %d-bit samples, want 16-bit PCM", path, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	rate := int(dec.SampleRate)
	channels := int(dec.NumChans)

	pcm := make([]byte, 2*len(buf.Data))
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(s)))
	}

	conn, _, err := websocket.Dial(ctx, serverURL+"/session", nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if models != "" {
		var names []string
		for _, n := range strings.Split(models, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		if err := write(ctx, conn, protocol.TypeDetect, protocol.Detect{Names: names}); err != nil {
			return err
		}
	}
	if err := write(ctx, conn, protocol.TypeAudioStart, protocol.AudioStart{
		Rate:     rate,
		Width:    2,
		Channels: channels,
	}); err != nil {
		return err
	}

	chunkBytes := 2 * channels * rate * chunkMs / 1000
	if chunkBytes < 2 {
		chunkBytes = 2
	}
	for off := 0; off < len(pcm); off += chunkBytes {
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		if realtime {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(chunkMs) * time.Millisecond):
			}
		}
	}
	if err := write(ctx, conn, protocol.TypeAudioStop, nil); err != nil {
		return err
	}

	// Collect events until the verdict. Detections may arrive before the
	// stop is processed.
	detected := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if detected {
				return nil
			}
			return fmt.Errorf("read verdict: %w", err)
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			return err
		}
		switch env.Type {
		case protocol.TypeDetection:
			var d protocol.Detection
			if err := protocol.DecodeData(env, &d); err != nil {
				return err
			}
			fmt.Printf("detected %s at %dms\n", d.Name, d.Timestamp)
			detected = true
		case protocol.TypeNotDetected:
			fmt.Println("not detected")
			return nil
		case protocol.TypeError:
			var e protocol.ServerError
			if err := protocol.DecodeData(env, &e); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "server error (%s): %s\n", e.Kind, e.Message)
		default:
			// info and future message types are ignored.
		}
		if detected {
			// The server sends nothing further after a detection verdict;
			// one detection is enough to exit successfully.
			return nil
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	b, err := protocol.Encode(typ, data)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}
