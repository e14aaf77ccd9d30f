package main

import "github.com/audiolibrelab/micrelay/cmd"

func main() {
	cmd.Execute()
}
