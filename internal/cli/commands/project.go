package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/projectpulse/internal/api/client"
	"github.com/projectpulse/internal/models"
)

func NewProjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project seeding commands",
	}

	cmd.AddCommand(newProjectImportCommand())
	return cmd
}

type projectFile struct {
	Projects []models.ProjectSnapshot `yaml:"projects"`
}

// readProjects loads a YAML file with a top-level "projects" list.
func readProjects(path string) ([]models.ProjectSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f projectFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for i, p := range f.Projects {
		if p.ID == "" {
			return nil, fmt.Errorf("project %d has no id", i)
		}
		if !p.State.IsValid() {
			return nil, fmt.Errorf("project %s: invalid state %q", p.ID, p.State)
		}
	}
	return f.Projects, nil
}

func newProjectImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Import or replace project snapshots (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := readProjects(args[0])
			if err != nil {
				return err
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			n, err := c.ImportProjects(projects)
			if err != nil {
				return fmt.Errorf("failed to import projects: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d projects\n", n)
			return nil
		},
	}
}
