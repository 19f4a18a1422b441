package main

import "github.com/vietddude/migrator/internal/cli"

func main() {
	cli.Execute()
}
