package main

import (
	"github.com/opsmesh/opsmesh/src/cmd/opsmesh/command"
)

func main() {
	command.Execute()
}
