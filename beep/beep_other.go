//go:build !linux && !darwin

package beep

// No audio backend here; the drill runs silently.

func Init()            {}
func PlayTick()        {}
func PlayAccent()      {}
func PlayChordChange() {}
