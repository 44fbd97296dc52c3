package output

import (
	"context"

	"github.com/TheCacophonyProject/usbcam-recorder/pipeline"
)

// Tee passes each frame to every consumer in turn. The same frame
// slice is shared, so consumers must not modify it. The first error
// stops the frame being passed on and is returned.
type Tee []pipeline.Consumer

func (t Tee) Consume(ctx context.Context, frame []byte) error {
	for _, c := range t {
		if err := c.Consume(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}
