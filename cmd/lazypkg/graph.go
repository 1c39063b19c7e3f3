package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chenyanchen/lazypkg"
)

func newGraphCmd() *cobra.Command {
	var manifestPath, format string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph of a manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := lazypkg.ReadManifestFile(manifestPath)
			if err != nil {
				return err
			}
			return writeGraph(cmd.OutOrStdout(), m, format)
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "manifest.yaml", "manifest file")
	cmd.Flags().StringVar(&format, "format", "dot", "output format: dot or mermaid")
	return cmd
}

func writeGraph(w io.Writer, m lazypkg.Manifest, format string) error {
	rt := lazypkg.New()
	if err := rt.ApplyManifest(m); err != nil {
		return err
	}
	g, err := rt.Graph()
	if err != nil {
		return err
	}
	switch format {
	case "dot":
		_, err = io.WriteString(w, g.DOT())
	case "mermaid":
		_, err = io.WriteString(w, g.Mermaid())
	default:
		return fmt.Errorf("unknown graph format %q", format)
	}
	return err
}
