package main

import "github.com/MeKo-Tech/esrioverlay/internal/cmd"

func main() {
	cmd.Execute()
}
