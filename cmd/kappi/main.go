package main

import "github.com/MeKo-Tech/kappi/cmd/kappi/cmd"

func main() {
	cmd.Execute()
}
