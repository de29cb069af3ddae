package config

import (
	"fmt"
	"os"
)

// Exitf reports a fatal startup problem on stderr and exits with code 1.
// The chat entrypoint calls it when flags or environment parsing fail,
// before the run loop starts.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
