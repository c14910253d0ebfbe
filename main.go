package main

import "StreamResolve/cmd"

func main() {
	cmd.Execute()
}
