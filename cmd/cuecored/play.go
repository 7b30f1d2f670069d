package main

import (
	"log"
	"os"
	"os/signal"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"

	"cuecore/engine"
	"cuecore/internal/config"
)

var (
	playLoop      bool
	playGainDB    float64
	playFadeInMs  int
	playFadeOutMs int
	playDevice    int
)

func init() {
	playCmd.Flags().BoolVar(&playLoop, "loop", false, "loop the cue until stopped")
	playCmd.Flags().Float64Var(&playGainDB, "gain-db", 0, "initial gain in dB")
	playCmd.Flags().IntVar(&playFadeInMs, "fade-in-ms", 0, "fade-in duration in ms")
	playCmd.Flags().IntVar(&playFadeOutMs, "fade-out-ms", 300, "fade-out duration on stop, in ms")
	playCmd.Flags().IntVar(&playDevice, "device", -1, "output device index (-1 for system default)")
	rootCmd.AddCommand(playCmd)
}

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play one cue through the default PortAudio output device until it finishes or Ctrl+C is pressed",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	cfg := config.Load()

	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	outDev, err := resolveOutputDevice(playDevice)
	if err != nil {
		return err
	}

	buf := make([]float32, cfg.BlockFrames*cfg.Channels)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: cfg.Channels,
			Latency:  outDev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.BlockFrames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return err
	}
	defer stream.Stop()

	stopRender := make(chan struct{})
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		for {
			select {
			case <-stopRender:
				return
			default:
			}
			eng.Render(buf)
			if err := stream.Write(); err != nil {
				log.Printf("[cuecored] stream write: %v", err)
				return
			}
		}
	}()
	defer func() {
		close(stopRender)
		<-renderDone
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	const cueID = "cli"
	eng.Submit(engine.PlayCueCommand{
		CueID:       cueID,
		FilePath:    filePath,
		GainDB:      playGainDB,
		FadeInMs:    playFadeInMs,
		FadeOutMs:   playFadeOutMs,
		LoopEnabled: playLoop,
	})

	for {
		select {
		case <-sigCh:
			eng.Submit(engine.StopCueCommand{CueID: cueID})
		case ev := <-eng.Events():
			switch e := ev.(type) {
			case engine.CueFinishedEvent:
				log.Printf("[cuecored] finished: reason=%s", e.Reason)
				return nil
			case engine.DecodeErrorEvent:
				log.Printf("[cuecored] decode error: %s", e.Message)
			case engine.CueTimeEvent:
				log.Printf("[cuecored] t=%.1fs / %.1fs", e.ElapsedSeconds, e.TotalSeconds)
			}
		}
	}
}

func resolveOutputDevice(idx int) (*portaudio.DeviceInfo, error) {
	if idx < 0 {
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if idx >= len(devices) {
		return portaudio.DefaultOutputDevice()
	}
	return devices[idx], nil
}
