package main

import (
	"os"

	"github.com/dkeye/VoiceRelay/cmd/voicecall/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
