package main

import "github.com/lepinkainen/deckhand/cmd"

var execute = cmd.Execute

func main() {
	execute()
}
