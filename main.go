package main

import (
	"github.com/sellerwatch/sellerwatch/cmd"
)

func main() {
	cmd.Execute()
}
