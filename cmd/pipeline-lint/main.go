// pipeline-lint validates pipeline definition files before deploy:
// stage graphs, transition targets, condition and action specs, and
// assignment strategies all fail here instead of at transition time.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/engine"
)

var cli struct {
	Check CheckCmd `cmd:"" help:"Validate one or more definition files."`
	Show  ShowCmd  `cmd:"" help:"Print the stages and transitions of a definition file."`
}

// CheckCmd validates definition files.
type CheckCmd struct {
	Paths []string `arg:"" name:"path" help:"Definition YAML files." type:"existingfile"`
}

// Run implements the check command.
func (c *CheckCmd) Run() error {
	failed := 0
	for _, path := range c.Paths {
		if _, err := engine.LoadDefinitionSet(path); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		fmt.Printf("%s: ok\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed validation", failed, len(c.Paths))
	}
	return nil
}

// ShowCmd prints a definition's structure.
type ShowCmd struct {
	Path string `arg:"" help:"Definition YAML file." type:"existingfile"`
}

// Run implements the show command.
func (c *ShowCmd) Run() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return err
	}
	defs, bindings, err := engine.ParseDefinitions(data)
	if err != nil {
		return err
	}
	for _, def := range defs {
		fmt.Printf("definition %s (%d stages)\n", def.ID, len(def.Stages))
		for _, stage := range def.Stages {
			fmt.Printf("  stage %s order=%d active=%v", stage.ID, stage.Order, stage.IsActive)
			if stage.SlaMinutes > 0 {
				fmt.Printf(" sla=%dm", stage.SlaMinutes)
			}
			fmt.Println()
			for _, rule := range stage.Transitions {
				fmt.Printf("    -> %s (%d conditions)\n", rule.To, len(rule.Conditions))
			}
		}
	}
	for pipelineID, defID := range bindings {
		fmt.Printf("binding %s -> %s\n", pipelineID, defID)
	}
	return nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("pipeline-lint"),
		kong.Description("Validate and inspect pipeline definition files."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		if code := pipeline.ErrorCode(err); code != "" {
			fmt.Fprintf(os.Stderr, "error [%s]: %v\n", code, err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
