// Command w1probe classifies a single w1_slave file the way the logger would.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwulff/w1log/internal/domain"
	"github.com/jwulff/w1log/internal/w1"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: w1probe <device-dir|w1_slave file>")
		os.Exit(1)
	}
	path := os.Args[1]

	id := domain.Identity(filepath.Base(path))
	if filepath.Base(path) == "w1_slave" {
		id = domain.Identity(filepath.Base(filepath.Dir(path)))
	}

	content, err := w1.ReadFile(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Raw content:")
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		fmt.Printf("  %s\n", line)
	}
	fmt.Println()

	reading, ok := w1.Parse(id, content)
	if !ok {
		fmt.Printf("Sensor: %s\n", id)
		fmt.Println("Result: unreadable (no data)")
		os.Exit(1)
	}

	fmt.Printf("Sensor: %s\n", reading.Identity)
	fmt.Printf("Reason: %s\n", reading.Reason)
	fmt.Printf("Raw:    %d m°C\n", reading.Raw)
	if reading.OK() {
		fmt.Printf("Value:  %d decidegrees (%.1f °C)\n", *reading.Value, float64(*reading.Value)/10)
	} else {
		fmt.Println("Value:  rejected, would not be logged")
		os.Exit(1)
	}
}
