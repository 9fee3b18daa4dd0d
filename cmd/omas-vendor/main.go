// Package main is the entry point for the omas-vendor CLI.
package main

import "github.com/omas-app/omas-vendor-go/internal/cli"

func main() {
	cli.Execute()
}
