package main

import "github.com/funkyfirehose/relay/internal/cli"

func main() {
	cli.Main()
}
