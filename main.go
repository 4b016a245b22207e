package main

import "github.com/fotique/selfie-match/cmd"

func main() {
	cmd.Execute()
}
