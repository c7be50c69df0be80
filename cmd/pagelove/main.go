// Package main is the entry point for the pagelove document server.
package main

func main() {
	Execute()
}
