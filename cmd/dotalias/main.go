package main

import "dotalias/internal/cli"

func main() {
	cli.Execute()
}
