//go:build !windows

package typing

import (
	"context"
	"fmt"
)

// sendInputBackend only exists on Windows; elsewhere selecting it
// (explicitly via VOICEPIPE_TYPE_BACKEND=sendinput, or implicitly by
// misdetecting the session) fails Available() rather than panicking.
type sendInputBackend struct{}

func newSendInputBackend() Backend { return sendInputBackend{} }

func (sendInputBackend) Name() string { return "sendinput" }

func (sendInputBackend) Available() error {
	return fmt.Errorf("sendinput backend is only available on Windows")
}

func (sendInputBackend) TypeText(ctx context.Context, text, windowID string) error {
	return fmt.Errorf("sendinput backend is only available on Windows")
}

func (sendInputBackend) PressEnter(ctx context.Context, windowID string) error {
	return fmt.Errorf("sendinput backend is only available on Windows")
}

func (sendInputBackend) PressKeys(ctx context.Context, keys []KeyChord, windowID string) error {
	return fmt.Errorf("sendinput backend is only available on Windows")
}
