package main

import "spotfinder/cmd"

func main() {
	cmd.Execute()
}
