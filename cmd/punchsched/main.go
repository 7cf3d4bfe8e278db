package main

import "github.com/example/punch-scheduler/cmd"

func main() {
	cmd.Execute()
}
