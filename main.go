package main

import "github.com/Ethernal-Tech/cardano-projector/cmd"

func main() {
	cmd.Execute()
}
