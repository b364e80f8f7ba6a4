// ABOUTME: Admin CLI for inspecting a shelf-gateway deployment.
// ABOUTME: Reads the gateway config to report libraries, grants, and topics.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/shelf-gateway/internal/config"
	"github.com/2389/shelf-gateway/internal/help"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "libraries":
		err = cmdLibraries()
	case "topics":
		err = cmdTopics()
	case "check":
		err = cmdCheck()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: shelf-admin <command>")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  libraries   List configured libraries and their grants")
	fmt.Println("  topics      List available help topics")
	fmt.Println("  check       Validate the configuration")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  SHELF_CONFIG   Config file path (default: ~/.config/shelf/gateway.yaml)")
}

func configPath() string {
	if envPath := os.Getenv("SHELF_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "shelf", "gateway.yaml")
}

func cmdLibraries() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH\tGRANTS\tIMPORT\tEXPORT")
	for _, summary := range cfg.ListLibraries() {
		lib, err := cfg.Library(summary.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			summary.Name, lib.Path, grantList(summary.Permissions),
			yesNo(lib.Import != nil), yesNo(lib.Export != nil))
	}
	return w.Flush()
}

func cmdTopics() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	if cfg.SkillsDir == "" {
		fmt.Println("no skills directory configured")
		return nil
	}

	topics, err := help.NewStore(cfg.SkillsDir).List()
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		fmt.Println("no help topics found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTITLE")
	for _, topic := range topics {
		fmt.Fprintf(w, "%s\t%s\n", topic.Name, topic.Title)
	}
	return w.Flush()
}

func cmdCheck() error {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("✓ %s is valid\n", path)

	for _, summary := range cfg.ListLibraries() {
		lib, err := cfg.Library(summary.Name)
		if err != nil {
			return err
		}
		fmt.Printf("  %s: %s\n", summary.Name, lib.Path)
		if _, statErr := os.Stat(lib.Path); statErr != nil {
			yellow.Printf("    ! library path does not exist yet\n")
		}
		if !summary.Permissions.Read.Allowed {
			yellow.Printf("    ! no read grant, most tools will be denied\n")
		}
	}
	return nil
}

func grantList(p config.Permissions) string {
	var grants []string
	if p.Read.Allowed {
		grants = append(grants, grantLabel("read", p.Read))
	}
	if p.Write.Allowed {
		grants = append(grants, grantLabel("write", p.Write))
	}
	if p.Delete {
		grants = append(grants, "delete")
	}
	if p.Convert {
		grants = append(grants, "convert")
	}
	if len(grants) == 0 {
		return "-"
	}
	return strings.Join(grants, ",")
}

func grantLabel(name string, g config.Grant) string {
	if g.IsList() {
		return fmt.Sprintf("%s[%s]", name, strings.Join(g.Fields, " "))
	}
	return name
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
