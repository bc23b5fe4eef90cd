package typing

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const clipboardTimeout = 3 * time.Second

// CopyToClipboard copies text to the system clipboard, dispatching by
// session type the same way TypeText dispatches keystrokes, grounded
// on the teacher's clipboardBackend (wl-copy over Wayland) generalized
// to X11 (xclip/xsel) and macOS (pbcopy); Windows uses the bundled
// `clip` console tool rather than the OLE clipboard API, avoiding a
// cgo/COM dependency for one string write.
func (t *Typer) CopyToClipboard(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()

	switch DetectSessionType() {
	case SessionWayland:
		return runWithStdin(ctx, text, "wl-copy")
	case SessionX11:
		if _, err := exec.LookPath("xclip"); err == nil {
			return runWithStdin(ctx, text, "xclip", "-selection", "clipboard")
		}
		return runWithStdin(ctx, text, "xsel", "--clipboard", "--input")
	case SessionMacOS:
		return runWithStdin(ctx, text, "pbcopy")
	case SessionWindows:
		return runWithStdin(ctx, text, "clip")
	default:
		return fmt.Errorf("typing: no clipboard backend for the current session")
	}
}

func runWithStdin(ctx context.Context, text string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("typing: %s: %w", name, err)
	}
	return nil
}
