package main

import "github.com/parleychat/parley/internal/cli"

func main() {
	cli.Execute()
}
