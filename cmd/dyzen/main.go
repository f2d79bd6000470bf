package main

import (
	"dyzen-trader/internal/cli"
)

func main() {
	cli.Execute()
}
