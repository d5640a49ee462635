package main

import (
	"os"

	"warden/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
