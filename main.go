package main

import "peerdrop/cli"

func main() {
	cli.Execute()
}
