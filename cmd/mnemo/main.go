package main

import "github.com/modernice/mnemo/cli"

func main() {
	cli.Main()
}
