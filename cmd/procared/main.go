package main

import "github.com/trymwestin/procare/internal/cli"

func main() {
	cli.Execute()
}
