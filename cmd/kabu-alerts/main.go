package main

import "kabu-alerts/internal/cli"

func main() {
	cli.Execute()
}
