package main

import (
	"log"

	"github.com/openfleet/dispatchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
