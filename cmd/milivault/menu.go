package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// runMenu is the no-argument entry: a short interactive session choosing
// environment, check kind, and sites, then a single pass.
func runMenu(ctx context.Context, flags *rootFlags) error {
	in := bufio.NewReader(os.Stdin)

	fmt.Println("MiliVault")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  1) AWS        (s3_credentials.json)")
	fmt.Println("  2) Local      (no image uploads)")
	fmt.Println("  3) Custom     (path to credentials file)")
	switch prompt(in, "Choice [2]: ", "2") {
	case "1":
		flags.credentials = "s3_credentials.json"
	case "3":
		flags.credentials = prompt(in, "Credentials path: ", "")
	default:
		flags.credentials = ""
	}

	fmt.Println()
	fmt.Println("Check kind:")
	fmt.Println("  1) New inventory (scrape)")
	fmt.Println("  2) Availability")
	fmt.Println("  3) Both")
	fmt.Println("  4) Data integrity")
	kind := prompt(in, "Choice [1]: ", "1")

	a, err := setup(flags)
	if err != nil {
		return err
	}
	defer a.close()

	if kind == "4" {
		return a.runner.Integrity(ctx)
	}

	fmt.Println()
	fmt.Println("Sites:")
	for i, p := range a.profiles {
		fmt.Printf("  %3d) %s\n", i+1, p.SourceName)
	}
	selected, err := selectSites(a.profiles, prompt(in, "Selection (e.g. 1,3-5,7; empty = all): ", ""))
	if err != nil {
		return err
	}

	switch kind {
	case "2":
		return availAll(ctx, a, selected)
	case "3":
		if err := availAll(ctx, a, selected); err != nil {
			return err
		}
		return scrapeAll(ctx, a, selected)
	default:
		return scrapeAll(ctx, a, selected)
	}
}

func prompt(in *bufio.Reader, label, fallback string) string {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil {
		return fallback
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	return line
}
