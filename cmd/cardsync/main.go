package main

import "card-price-sync/internal/cli"

func main() {
	cli.Execute()
}
