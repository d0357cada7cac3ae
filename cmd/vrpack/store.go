package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecfs/internal/logging"
	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// storeOptions are the flags shared by the store commands.
type storeOptions struct {
	profile string
	path    string
}

func (o *storeOptions) register(cmd *cobra.Command, pathUsage string) {
	cmd.Flags().StringVar(&o.profile, "profile", "", "profile to act on as its owner (required)")
	cmd.Flags().StringVar(&o.path, "path", "/", pathUsage)
	_ = cmd.MarkFlagRequired("profile")
}

func (o *storeOptions) target() (vrpath.Path, error) {
	p, err := vrpath.Parse(o.path)
	if err != nil {
		return vrpath.Path{}, fmt.Errorf("--path: %w", err)
	}
	return p, nil
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	sopts := &storeOptions{}
	var description string
	cmd := &cobra.Command{
		Use:   "add FILE...",
		Short: "Embed text files and save them as items of a folder",
		Long: `Split each file into paragraphs, embed them with the configured model and
save the result under --path. Missing folders are created. The original file
is kept as the source of the item.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, (*app).withStore, func(ctx context.Context, a *app) error {
				folder, err := sopts.target()
				if err != nil {
					return err
				}
				ctx = logging.WithProfile(ctx, sopts.profile)
				owner := a.owner(sopts.profile)

				root, err := a.store.NewWriter(ctx, owner, vrpath.Root(), sopts.profile)
				if err != nil {
					return err
				}
				if err := a.store.CreateFolderAuto(ctx, root, folder); err != nil {
					return err
				}
				w, err := a.store.NewWriter(ctx, owner, folder, sopts.profile)
				if err != nil {
					return err
				}
				for _, file := range args {
					data, err := os.ReadFile(file)
					if err != nil {
						return fmt.Errorf("failed to read %s: %w", file, err)
					}
					name := filepath.Base(file)
					res, err := a.gen.BuildDocument(ctx, name, description, file, splitParagraphs(string(data)))
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					sources := resource.SourceFileMap{name: {Name: name, Type: fileType(name), Data: data}}
					it, err := a.store.SaveResource(ctx, w, res, sources)
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					a.logger.Info(ctx, "added resource", zap.Stringer("path", it.Path), zap.Int("nodes", it.NodeCount()))
					fmt.Fprintln(cmd.OutOrStdout(), it.Path)
				}
				return a.flush(ctx, sopts.profile)
			})
		},
	}
	sopts.register(cmd, "folder to add the files to")
	cmd.Flags().StringVar(&description, "description", "", "description given to every added resource")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	sopts := &storeOptions{}
	cmd := &cobra.Command{
		Use:   "export OUT",
		Short: "Export a folder of a profile as a .vrpack file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, (*app).withStore, func(ctx context.Context, a *app) error {
				path, err := sopts.target()
				if err != nil {
					return err
				}
				ctx = logging.WithProfile(ctx, sopts.profile)
				r, err := a.store.NewReader(ctx, a.owner(sopts.profile), path, sopts.profile)
				if err != nil {
					return err
				}
				pack, err := a.store.RetrievePack(ctx, r)
				if err != nil {
					return err
				}
				data, err := pack.Encode()
				if err != nil {
					return err
				}
				if err := os.WriteFile(args[0], data, 0o600); err != nil {
					return fmt.Errorf("failed to write %s: %w", args[0], err)
				}
				a.logger.Info(ctx, "exported pack",
					zap.Stringer("path", path),
					zap.Int("entries", pack.Len()),
					zap.Int("bytes", len(data)),
				)
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d resources to %s\n", pack.Len(), args[0])
				return nil
			})
		},
	}
	sopts.register(cmd, "folder to export")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	sopts := &storeOptions{}
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Extract a .vrpack file into a folder of a profile",
		Long: `Extract FILE into --path. The pack becomes a new folder named after the
pack; the import fails without changes if that name is taken or a resource
uses an embedding model the profile does not support.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, (*app).withStore, func(ctx context.Context, a *app) error {
				path, err := sopts.target()
				if err != nil {
					return err
				}
				f, err := readContainer(args[0])
				if err != nil {
					return err
				}
				if f.pack == nil {
					return fmt.Errorf("%s is a .vrkai file; import takes a .vrpack", args[0])
				}
				ctx = logging.WithProfile(ctx, sopts.profile)
				w, err := a.store.NewWriter(ctx, a.owner(sopts.profile), path, sopts.profile)
				if err != nil {
					return err
				}
				out, err := a.store.ExtractPack(ctx, w, f.pack)
				if err != nil {
					return err
				}
				if err := a.flush(ctx, sopts.profile); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d resources into %s\n", f.pack.Len(), out)
				return nil
			})
		},
	}
	sopts.register(cmd, "folder to extract into")
	return cmd
}

// splitParagraphs returns the non-blank paragraphs of text.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fileType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

