package main

import (
	"os"

	"github.com/Azure/container-bootstrap/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
