package main

import "github.com/engramdb/engram/cmd/engram/commands"

func main() {
	commands.Execute()
}
