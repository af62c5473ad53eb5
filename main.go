package main

import "github.com/kiesman99/mapraster/cmd"

func main() {
	cmd.Execute()
}
