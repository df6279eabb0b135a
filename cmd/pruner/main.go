package main

import "github.com/pruner-io/pruner/internal/cli"

func main() {
	cli.Execute()
}
