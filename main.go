package main

import "cratio-alerts/internal/cli"

func main() {
	cli.Execute()
}
