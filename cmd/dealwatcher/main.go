package main

import (
	"price-deal-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
