package main

import "github.com/pairmeet/pairmeet/cmd/pairmeet/cmd"

func main() {
	cmd.Execute()
}
