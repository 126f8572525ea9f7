package main

import (
	"os"

	"github.com/vx0net/overlayd/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
