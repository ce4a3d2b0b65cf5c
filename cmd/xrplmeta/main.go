package main

import (
	"github.com/Tomyleexrp/xrplmeta/internal/cli"
)

func main() {
	cli.Execute()
}
