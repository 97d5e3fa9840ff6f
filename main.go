package main

import "motionwatch/cmd"

func main() {
	cmd.Execute()
}
