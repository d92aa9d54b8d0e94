package eventstream

import (
	"context"
	"errors"
	"io"
)

const readChunkSize = 4 * 1024

// Run pulls chunks from r into d and hands every event to handle, in order.
// It returns nil once the stream is done or r reports io.EOF, ctx.Err() when
// the caller abandons the stream, and the read error otherwise. Closing r is
// left to the caller.
func Run(ctx context.Context, r io.Reader, d *Decoder, handle func(Event)) error {
	chunk := make([]byte, readChunkSize)
	for !d.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			for _, ev := range d.Write(chunk[:n]) {
				handle(ev)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				for _, ev := range d.Flush() {
					handle(ev)
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
	return nil
}
