package main

import "github.com/hupe1980/vecswitch/internal/cli"

func main() {
	cli.Execute()
}
