package main

import (
	"github.com/hashfleet/wagateway/cmd"
)

func main() {
	cmd.Execute()
}
