// Command cuecored is a small demonstration host for the cuecore engine: it
// wires the library to a real PortAudio output stream and a minimal CLI,
// standing in for the UI/HID/library layers the engine itself never
// depends on.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cuecored",
	Short: "cuecored drives the cuecore playback engine against a PortAudio output device",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
