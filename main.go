package main

import "skytracker/cmd"

func main() {
	cmd.Execute()
}
