package main

import "github.com/cleverdata/plotmover/cmd"

func main() {
	cmd.Execute()
}
