package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
)

// maxScanTokenSize is the maximum buffer size for reading one output line.
const maxScanTokenSize = 1024 * 1024 // 1MB

// Origin identifies which subprocess stream a line came from.
type Origin string

// The two subprocess output streams.
const (
	OriginStdout Origin = "stdout"
	OriginStderr Origin = "stderr"
)

// RawLine is the unit moving through a drain queue: one line of output,
// tagged by origin, with a per-stream monotonically increasing sequence.
// Ordering within one origin is preserved; ordering across origins is not.
type RawLine struct {
	Origin Origin
	Text   string
	Seq    uint64
}

// Pump continuously reads lines from r and sends them on out until
// end-of-stream or context cancellation. It closes out on return; the
// closed channel is the sentinel that tells consumers the stream will
// never produce more, as opposed to "no data yet".
//
// Exactly one pump runs per stream for the lifetime of the subprocess.
func Pump(ctx context.Context, log *slog.Logger, origin Origin, r io.Reader, out chan<- RawLine) error {
	defer close(out)

	scanner := bufio.NewScanner(r)
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	var seq uint64

	for scanner.Scan() {
		seq++
		line := RawLine{Origin: origin, Text: scanner.Text(), Seq: seq}

		select {
		case out <- line:
		case <-ctx.Done():
			log.Debug("Pump cancelled", "origin", origin, "lines", seq)

			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		// The process being killed closes the pipe mid-read; that is the
		// normal shutdown path, so surface it to the caller and let the
		// lifecycle layer decide whether it matters.
		log.Debug("Pump scanner stopped", "origin", origin, "error", err)

		return fmt.Errorf("scan %s: %w", origin, err)
	}

	log.Debug("Pump reached end of stream", "origin", origin, "lines", seq)

	return nil
}
