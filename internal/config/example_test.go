package config_test

import (
	"fmt"
	"time"

	"github.com/gamelaunch/gamelaunch/internal/config"
)

// Example of creating a default configuration
func ExampleDefault() {
	cfg := config.Default()
	fmt.Println("Poll Interval:", cfg.Monitor.PollInterval)
	fmt.Println("Exit Threshold:", cfg.Monitor.ExitThreshold)
	fmt.Println("Sample Interval:", cfg.Tracker.SampleInterval)
	fmt.Println("Probe Source:", cfg.Monitor.ProbeSource)
	// Output:
	// Poll Interval: 1s
	// Exit Threshold: 1
	// Sample Interval: 500ms
	// Probe Source: usage
}

// Example of setting poll interval with validation
func ExampleConfig_SetPollInterval() {
	cfg := config.Default()

	if err := cfg.SetPollInterval(250 * time.Millisecond); err != nil {
		fmt.Println("Error:", err)
	} else {
		fmt.Println("Poll interval set to:", cfg.Monitor.PollInterval)
	}

	if err := cfg.SetPollInterval(0); err != nil {
		fmt.Println("Error:", err)
	}

	// Output:
	// Poll interval set to: 250ms
	// Error: poll interval must be positive, got 0s
}

// Example of validating configuration
func ExampleConfig_Validate() {
	cfg := config.Default()

	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid config:", err)
	} else {
		fmt.Println("Configuration is valid")
	}

	cfg.Monitor.ProbeSource = "telepathy"
	fmt.Println(cfg.Validate())

	// Output:
	// Configuration is valid
	// probe source must be "usage" or "window", got "telepathy"
}
