package main

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
)

// sdNotifier tells systemd the daemon is ready once frames start
// flowing, and pats the watchdog every framesPerNotify frames.
type sdNotifier struct {
	framesPerNotify int
	notify          func(state string)

	ready bool
	count int
}

func newSdNotifier(fps int) *sdNotifier {
	return &sdNotifier{
		framesPerNotify: 5 * fps,
		notify: func(state string) {
			daemon.SdNotify(false, state)
		},
	}
}

func (n *sdNotifier) Consume(ctx context.Context, frame []byte) error {
	if !n.ready {
		n.notify("READY=1")
		n.ready = true
	}
	if n.count++; n.count >= n.framesPerNotify {
		n.notify("WATCHDOG=1")
		n.count = 0
	}
	return nil
}
