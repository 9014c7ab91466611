package main

import "github.com/hookpipe/hookpipe/cmd"

func main() {
	cmd.Execute()
}
