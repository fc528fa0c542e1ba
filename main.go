package main

import "tablebook/cmd"

func main() {
	cmd.Execute()
}
