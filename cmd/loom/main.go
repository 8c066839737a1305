package main

import "github.com/loomhq/loom/internal/cmd"

func main() {
	cmd.Execute()
}
