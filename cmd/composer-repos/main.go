package main

import "composer-repos/internal/cli"

func main() {
	cli.Execute()
}
