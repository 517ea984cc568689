package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/dinvlad/jade-data-repo/internal/datarepo"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
)

func fsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fs",
		Short: "Inspects and edits collection namespaces",
	}
	cmd.AddCommand(
		fsLookupCmd(),
		fsDeleteCmd(),
		fsDependencyCmd(),
	)
	return cmd
}

// withNamespace runs action against the configured namespace store.
func withNamespace(action func(ctx context.Context, namespace *filesystem.Service) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := datarepo.NewApp(ctx, config)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := action(ctx, a.Namespace)
		if err != nil || result == nil {
			return err
		}
		out, err := yaml.Marshal(result)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
		return errors.WithStack(err)
	}
}

type fsItem struct {
	Path            string                `json:"path"`
	FileId          string                `json:"fileId,omitempty"`
	Directory       bool                  `json:"directory"`
	Size            int64                 `json:"size,omitempty"`
	Checksums       *filesystem.Checksums `json:"checksums,omitempty"`
	StorageLocation string                `json:"storageLocation,omitempty"`
	LoadTag         string                `json:"loadTag,omitempty"`
	Contents        []*fsItem             `json:"contents,omitempty"`
}

func toFsItem(item *filesystem.Item) *fsItem {
	out := &fsItem{
		Path:      item.Entry.FullPath(),
		FileId:    item.Entry.FileId,
		Directory: item.IsDirectory(),
		LoadTag:   item.Entry.LoadTag,
	}
	if item.File != nil {
		out.Size = item.File.Size
		out.Checksums = &item.File.Checksums
		out.StorageLocation = item.File.StorageLocation
	}
	for _, child := range item.Contents {
		out.Contents = append(out.Contents, toFsItem(child))
	}
	return out
}

func fsLookupCmd() *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "lookup <collectionId> <path>",
		Short: "Prints the entry at path, expanding directories depth levels down",
		Args:  cobra.ExactArgs(2),
	}
	cmd.Flags().IntVar(&depth, "depth", 1, "Levels of directory contents to print, -1 for the whole subtree")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withNamespace(func(ctx context.Context, namespace *filesystem.Service) (interface{}, error) {
			item, err := namespace.ListChildren(ctx, args[0], args[1], depth)
			if err != nil {
				return nil, err
			}
			return toFsItem(item), nil
		})(cmd, args)
	}
	return cmd
}

func fsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collectionId> <fileId>",
		Short: "Deletes a file and every directory it leaves empty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNamespace(func(ctx context.Context, namespace *filesystem.Service) (interface{}, error) {
				deleted, err := namespace.DeleteFile(ctx, args[0], args[1])
				if err != nil {
					return nil, err
				}
				if !deleted {
					return nil, errors.Errorf("no file %s in collection %s", args[1], args[0])
				}
				return nil, nil
			})(cmd, args)
		},
	}
}

func fsDependencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dependency",
		Short: "Manages the references other collections hold on files",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <consumerCollectionId> <fileId>",
			Short: "Records one more reference to a file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withNamespace(func(ctx context.Context, namespace *filesystem.Service) (interface{}, error) {
					return nil, namespace.AddDependency(ctx, args[0], args[1])
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "remove <consumerCollectionId> <fileId>",
			Short: "Drops one reference to a file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withNamespace(func(ctx context.Context, namespace *filesystem.Service) (interface{}, error) {
					return nil, namespace.RemoveDependency(ctx, args[0], args[1])
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "list <fileId>",
			Short: "Prints the references held on a file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withNamespace(func(ctx context.Context, namespace *filesystem.Service) (interface{}, error) {
					return namespace.LookupDependencies(ctx, args[0])
				})(cmd, args)
			},
		},
	)
	return cmd
}
