package main

import "stocksync/cmd"

func main() {
	cmd.Execute()
}
