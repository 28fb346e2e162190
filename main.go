package main

import "github.com/halcyonbot/halcyon/cmd"

func main() {
	cmd.Execute()
}
