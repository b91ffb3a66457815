package main

import "github.com/jfmyers9/tidewatch/cmd"

func main() {
	cmd.Execute()
}
