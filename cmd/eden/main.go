package main

import "github.com/eden-portal/eden/internal/cli"

func main() {
	cli.Execute()
}
