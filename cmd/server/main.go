// Command readapi serves entity types declared in an entities file as a
// read-only HTTP API.
package main

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	Execute()
}
