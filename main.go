package main

import "github.com/openpalm/openpalm/cmd"

func main() {
	cmd.Execute()
}
