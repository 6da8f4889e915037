package main

import "github.com/shawkym/roomsync/cmd"

func main() {
	cmd.Execute()
}
