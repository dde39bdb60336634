package main

import "kufar_watch/cmd"

func main() {
	cmd.Execute()
}
