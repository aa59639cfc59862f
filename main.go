package main

import "github.com/fiffeek/modesetcfg/cmd"

func main() {
	cmd.Execute()
}
