package main

import "github.com/deploymenttheory/go-disksleuth/cmd"

func main() {
	cmd.Execute()
}
