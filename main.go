package main

import (
	"fmt"

	"github.com/ringmesh/ringmesh/cli"
)

func main() {
	if err := cli.Start(); err != nil {
		fmt.Println(err)
	}
}
