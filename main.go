package main

import "github.com/Tiliavir/stampclock/cmd"

func main() {
	cmd.Execute()
}
