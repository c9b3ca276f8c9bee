//go:build !windows

package doctor

import (
	"io"
	"os"
	"os/exec"

	"golang.org/x/term"
)

// resetTerminal restores cooked mode in case a crashed TUI left the
// terminal raw. Only applies when in is an interactive terminal.
func resetTerminal(in io.Reader) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return
	}
	cmd := exec.Command("stty", "sane")
	cmd.Stdin = f
	cmd.Run()
}
