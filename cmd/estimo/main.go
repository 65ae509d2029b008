package main

import (
	"estimo/server/cmd/estimo/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
