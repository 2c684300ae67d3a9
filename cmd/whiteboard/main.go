package main

import "whiteboard/cmd/whiteboard/cmd"

func main() {
	cmd.Execute()
}
