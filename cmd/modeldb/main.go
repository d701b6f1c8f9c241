package main

import "modeldb/internal/cli"

func main() {
	cli.Execute()
}
