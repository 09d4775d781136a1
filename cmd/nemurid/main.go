package main

import "github.com/amakane-hakari/nemuri/cmd/nemurid/cmd"

func main() {
	cmd.Execute()
}
