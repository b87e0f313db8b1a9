package main

import "github.com/coterm/coterm-core/cli"

func main() {
	cli.Execute()
}
