//go:build windows

package doctor

import "io"

func resetTerminal(io.Reader) {
	// Not needed on Windows
}
