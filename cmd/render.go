package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openpalm/openpalm/internal/render"
	"github.com/openpalm/openpalm/internal/stack"
	"github.com/openpalm/openpalm/internal/state"
)

func renderCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render stack artifacts from the spec without applying them",
		Run: func(cmd *cobra.Command, args []string) {
			runRender(name)
		},
	}
	cmd.Flags().StringVar(&name, "artifact", "", "print a single artifact by name")
	return cmd
}

func runRender(name string) {
	paths := state.DefaultPaths()

	spec, err := stack.Load(paths.SpecFile())
	if err != nil {
		slog.Error("render", "error", err)
		os.Exit(1)
	}
	snippets, err := render.DiscoverSnippets(paths.ConfigChannelsDir())
	if err != nil {
		slog.Error("render", "error", err)
		os.Exit(1)
	}

	result, err := (&render.Renderer{Spec: spec, Snippets: snippets}).Render()
	if err != nil {
		slog.Error("render", "error", err)
		os.Exit(1)
	}

	if name != "" {
		data := result.Get(name)
		if data == nil {
			slog.Error("render", "error", "unknown artifact "+name)
			os.Exit(1)
		}
		os.Stdout.Write(data)
		return
	}

	for _, artifact := range result.Artifacts {
		fmt.Printf("--- %s (%d bytes) ---\n", artifact.Name, len(artifact.Data))
		os.Stdout.Write(artifact.Data)
		fmt.Println()
	}
}
