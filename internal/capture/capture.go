// Package capture turns a live per-speaker frame stream into the raw
// PCM fed to the normalizer, ending each segment on trailing silence.
package capture

import (
	"context"
	"io"
	"time"
)

// Capturer drains decoded PCM frames into a writer until the silence
// threshold elapses with no frame, the frame channel closes, or the
// context is canceled. Sub-threshold pauses keep the segment going.
type Capturer struct {
	Silence time.Duration
}

func New(silence time.Duration) *Capturer {
	if silence <= 0 {
		silence = 1200 * time.Millisecond
	}
	return &Capturer{Silence: silence}
}

// Run copies frames to w and reports the bytes written. It always
// closes w so the downstream process sees end-of-stream. A closed frame
// channel finalizes immediately with whatever was captured.
func (c *Capturer) Run(ctx context.Context, frames <-chan []byte, w io.WriteCloser) (int64, error) {
	defer w.Close()

	timer := time.NewTimer(c.Silence)
	defer timer.Stop()

	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return written, nil
			}
			n, err := w.Write(frame)
			written += int64(n)
			if err != nil {
				return written, err
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.Silence)
		case <-timer.C:
			return written, nil
		}
	}
}
