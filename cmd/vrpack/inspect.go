package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecfs/internal/container"
	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	folderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	itemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
)

// maxPreview bounds node text shown by inspect and search.
const maxPreview = 72

// containerFile is a decoded .vrkai or .vrpack file. Exactly one field is set.
type containerFile struct {
	kai  *container.Kai
	pack *container.Pack
}

func readContainer(path string) (*containerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	switch {
	case container.IsPack(data):
		pack, err := container.DecodePack(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &containerFile{pack: pack}, nil
	case container.IsKai(data):
		kai, err := container.DecodeKai(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &containerFile{kai: kai}, nil
	default:
		return nil, fmt.Errorf("%s is neither a .vrkai nor a .vrpack file", path)
	}
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the contents of a .vrkai or .vrpack file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, nil, func(ctx context.Context, a *app) error {
				f, err := readContainer(args[0])
				if err != nil {
					return err
				}
				a.logger.Debug(ctx, "inspecting container", zap.String("file", args[0]))
				if f.pack != nil {
					renderPack(cmd.OutOrStdout(), f.pack)
				} else {
					renderKai(cmd.OutOrStdout(), f.kai)
				}
				return nil
			})
		},
	}
}

func renderKai(w io.Writer, kai *container.Kai) {
	res := kai.Resource
	fmt.Fprintln(w, titleStyle.Render("kai "+kai.Name()))
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label+":"), value)
		}
	}
	field("description", res.Description)
	field("source", res.Source)
	field("kind", string(res.Kind))
	field("model", res.EmbeddingModel)
	field("keywords", strings.Join(res.Keywords, ", "))
	field("reference", res.ReferenceID)
	field("merkle", res.MerkleRoot)
	field("nodes", fmt.Sprint(res.NodeCount()))
	for i, n := range res.Nodes {
		fmt.Fprintf(w, "    %s %s\n", metaStyle.Render(fmt.Sprintf("[%d]", i)), preview(nodeText(n)))
	}
	if len(kai.Sources) > 0 {
		keys := make([]string, 0, len(kai.Sources))
		for k := range kai.Sources {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			src := kai.Sources[k]
			field("source file", fmt.Sprintf("%s (%s, %d bytes)", k, src.Type, len(src.Data)))
		}
	}
}

// treeLine is one folder or entry of a pack, ordered by path.
type treeLine struct {
	path   vrpath.Path
	folder bool
	kai    *container.Kai
}

func renderPack(w io.Writer, pack *container.Pack) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("pack "+pack.Name),
		metaStyle.Render(fmt.Sprintf("(%d resources, %d folders, models: %s)",
			pack.Len(), pack.FolderCount(), strings.Join(pack.Models(), ", "))))

	lines := make([]treeLine, 0, pack.Len()+pack.FolderCount())
	for _, p := range pack.Folders() {
		lines = append(lines, treeLine{path: p, folder: true})
	}
	for _, e := range pack.UnpackAll() {
		lines = append(lines, treeLine{path: e.Path, kai: e.Kai})
	}
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].path.String() < lines[j].path.String()
	})

	for _, l := range lines {
		indent := strings.Repeat("  ", l.path.Len())
		if l.folder {
			fmt.Fprintf(w, "%s%s\n", indent, folderStyle.Render(l.path.Last()+"/"))
			continue
		}
		res := l.kai.Resource
		fmt.Fprintf(w, "%s%s %s\n", indent, itemStyle.Render(l.path.Last()),
			metaStyle.Render(fmt.Sprintf("nodes=%d merkle=%s", res.NodeCount(), shortHash(res.MerkleRoot))))
	}
}

func newUnpackCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack FILE",
		Short: "List path, name and merkle root of every resource in a container",
		Long: `List one tab separated line per resource: path, resource name and merkle
root. The output is meant for scripts and is never styled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, nil, func(ctx context.Context, a *app) error {
				f, err := readContainer(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if f.kai != nil {
					fmt.Fprintf(out, "/%s\t%s\t%s\n", f.kai.Name(), f.kai.Resource.Name, f.kai.Resource.MerkleRoot)
					return nil
				}
				for _, e := range f.pack.UnpackAll() {
					fmt.Fprintf(out, "%s\t%s\t%s\n", e.Path, e.Kai.Resource.Name, e.Kai.Resource.MerkleRoot)
				}
				a.logger.Debug(ctx, "unpacked", zap.Int("entries", f.pack.Len()))
				return nil
			})
		},
	}
}

func nodeText(n resource.Node) string {
	if n.Kind == resource.ContentResource && n.Resource != nil {
		return "<resource " + n.Resource.Name + ">"
	}
	return n.Text
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxPreview {
		return string(r[:maxPreview-3]) + "..."
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
