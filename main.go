package main

import (
	"os"

	"github.com/nexasecurity/nexasec/cmd"
)

func main() {
	cmd.Execute(os.Args[1:])
}
