package main

import (
	"flag"
	"fmt"
	"os"

	"ssw-logmanager/internal/app"
	"ssw-logmanager/internal/config"
)

func main() {
	var (
		configFile string
		validate   bool
	)
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.BoolVar(&validate, "validate", false, "Validate the configuration and exit")
	flag.Parse()

	if configFile == "" {
		if envConfigFile := os.Getenv("LOGMANAGER_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "/app/configs/logmanager.yaml"
		}
	}

	if validate {
		cfg, err := config.LoadConfig(configFile)
		if err == nil {
			err = config.ValidateConfig(cfg)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration %s: %v\n", configFile, err)
			os.Exit(1)
		}
		fmt.Printf("Configuration %s is valid\n", configFile)
		return
	}

	fmt.Printf("Using configuration file: %s\n", configFile)

	application, err := app.New(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
