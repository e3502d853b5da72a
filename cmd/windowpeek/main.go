package main

import "github.com/bryanchriswhite/WindowPeek/cmd/windowpeek/commands"

func main() {
	commands.Execute()
}
