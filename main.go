package main

import "rpmkit/internal/rpmkit"

func main() {
	rpmkit.Main()
}
