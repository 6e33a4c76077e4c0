package main

import "github.com/MeKo-Tech/scholardoc/cmd/scholardoc/cmd"

func main() {
	cmd.Execute()
}
