package main

import (
	"os"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/tc2-hat-rangefinder/internal/rangefinder"
)

var version = "<not set>"

func main() {
	log := logging.NewLogger("info")
	if err := rangefinder.Run(os.Args[1:], version); err != nil {
		log.Fatal(err)
	}
}
