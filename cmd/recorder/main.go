// Package main is the recorder client: it captures the screen and microphone,
// streams the recording to the server as a multipart upload and saves it
// locally when the upload cannot be completed.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
