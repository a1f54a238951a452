package main

import "padlink/cmd"

func main() {
	cmd.Execute()
}
