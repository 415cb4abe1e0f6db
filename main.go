package main

import "nesopack/internal/nesopack"

func main() {
	nesopack.Main()
}
