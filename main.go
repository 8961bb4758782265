package main

import "github.com/audiolibrelab/meetrec/cmd"

func main() {
	cmd.Execute()
}
