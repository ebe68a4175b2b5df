package main

import (
	"github.com/BioHazard786/huddle/cmd"
	"github.com/BioHazard786/huddle/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
