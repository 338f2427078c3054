package main

import "github.com/dellavolpe/rnc-front/cmd/rnc-front/cmd"

func main() {
	cmd.Execute()
}
