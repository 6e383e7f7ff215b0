package main

import "caption-scheduler/internal/cli"

func main() {
	cli.Execute()
}
