package main

import (
	"flag"
	"log"

	"github.com/danmuck/canview/internal/config"
)

func main() {
	transport := flag.String("transport", config.TransportSocketCAN, "transport template: socketcan|slcan|replay")
	output := flag.String("output", "cmd/canview/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/canview/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", cfg.Transport, *input)
		return
	}

	if err := config.WriteTemplate(*output, *transport, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *transport, *output)
}
