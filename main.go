package main

import (
	"github.com/avforge/avforge/cmd"
)

func main() {
	cmd.Execute()
}
