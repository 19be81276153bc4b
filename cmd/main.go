package main

import (
	"os"

	"github.com/soundprediction/go-timeline/cmd/timeline"
)

func main() {
	if err := timeline.Execute(); err != nil {
		os.Exit(1)
	}
}
