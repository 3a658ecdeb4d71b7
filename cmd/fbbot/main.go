package main

import (
	"log"

	corecmd "github.com/m3rciful/pizzabot/core/cmd"
	"github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/shop/app"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		Front:             config.FrontMessenger,
		Bootstrap:         app.NewMessenger,
	})
	if err != nil {
		log.Fatal(err)
	}
}
