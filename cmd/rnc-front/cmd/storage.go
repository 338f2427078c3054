package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dellavolpe/rnc-front/internal/config"
	"github.com/dellavolpe/rnc-front/internal/objstore"
)

// openStorage connects using the storage section of --config. Tests swap it.
var openStorage = func(ctx context.Context) (*objstore.Manager, error) {
	if err := requireConfigPath(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return objstore.Connect(ctx, objstore.Options{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: string(cfg.Storage.AccessKey),
		SecretKey: string(cfg.Storage.SecretKey),
		Secure:    cfg.Storage.Secure,
		Region:    cfg.Storage.Region,
	})
}

var (
	lsRecursive  bool
	presignHours int
	presignPut   bool
	readColumn   string
	readLimit    int
	contentType  string
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect and move objects in the configured MinIO server",
}

var storageBucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List buckets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		buckets, err := m.ListBuckets(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCREATED")
		for _, b := range buckets {
			fmt.Fprintf(tw, "%s\t%s\n", b.Name, b.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var storageLsCmd = &cobra.Command{
	Use:   "ls <bucket> [prefix]",
	Short: "List objects in a bucket",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		prefix := ""
		if len(args) == 2 {
			prefix = args[1]
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
		for obj, err := range m.ListObjects(cmd.Context(), args[0], prefix, lsRecursive).All() {
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", obj.Name, obj.Size, obj.LastModified.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var storageAttachmentsCmd = &cobra.Command{
	Use:   "attachments <bucket> <record-id>",
	Short: "List the attachments of one record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		names, err := m.ListAttachments(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var storageUploadCmd = &cobra.Command{
	Use:   "upload <file> <bucket> [object]",
	Short: "Upload a local file",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		object := filepath.Base(args[0])
		if len(args) == 3 {
			object = args[2]
		}
		res, err := m.Upload(cmd.Context(), args[0], object, args[1], contentType)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s/%s (%d bytes)\n", res.Bucket, res.ObjectName, res.Size)
		return nil
	},
}

var storageDownloadCmd = &cobra.Command{
	Use:   "download <bucket> <object> <file>",
	Short: "Download an object to a local file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		res, err := m.Download(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s/%s to %s (%d bytes)\n", res.Bucket, res.ObjectName, res.LocalPath, res.Size)
		return nil
	},
}

var storageCatCmd = &cobra.Command{
	Use:   "cat <bucket> <object>",
	Short: "Write an object to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		rc, err := m.Open(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		defer rc.Close()
		_, err = io.Copy(cmd.OutOrStdout(), rc)
		return err
	},
}

var storageRmCmd = &cobra.Command{
	Use:   "rm <bucket> <object>...",
	Short: "Remove objects",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		for _, object := range args[1:] {
			if err := m.Delete(cmd.Context(), args[0], object); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s/%s\n", args[0], object)
		}
		return nil
	},
}

var storagePresignCmd = &cobra.Command{
	Use:   "presign <bucket> <object>",
	Short: "Print a temporary URL for an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		method := objstore.PresignDownload
		if presignPut {
			method = objstore.PresignUpload
		}
		u, err := m.Presign(cmd.Context(), args[0], args[1], method, presignHours)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), u)
		return nil
	},
}

var storageReadCmd = &cobra.Command{
	Use:   "read <bucket> <object>",
	Short: "Print a CSV, JSON or Parquet table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		table, err := m.ReadTable(cmd.Context(), args[1], args[0])
		if err != nil {
			return err
		}
		return printTable(cmd.OutOrStdout(), table, readColumn, readLimit)
	},
}

func printTable(w io.Writer, table *objstore.Table, column string, limit int) error {
	if column != "" {
		values, ok := table.Column(column)
		if !ok {
			return fmt.Errorf("column %q not found; have %s", column, strings.Join(table.Columns, ", "))
		}
		for i, v := range values {
			if limit > 0 && i >= limit {
				break
			}
			fmt.Fprintln(w, v)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(table.Columns, "\t"))
	for i, row := range table.Rows {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func init() {
	storageLsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "r", false, "descend into prefixes")
	storageUploadCmd.Flags().StringVar(&contentType, "content-type", "", "content type; guessed from the extension when empty")
	storagePresignCmd.Flags().IntVar(&presignHours, "hours", 1, "link lifetime in hours (1-168)")
	storagePresignCmd.Flags().BoolVar(&presignPut, "upload", false, "presign an upload (PUT) instead of a download")
	storageReadCmd.Flags().StringVar(&readColumn, "column", "", "print only this column")
	storageReadCmd.Flags().IntVar(&readLimit, "limit", 20, "maximum rows to print; 0 prints all")

	storageCmd.AddCommand(
		storageBucketsCmd,
		storageLsCmd,
		storageAttachmentsCmd,
		storageUploadCmd,
		storageDownloadCmd,
		storageCatCmd,
		storageRmCmd,
		storagePresignCmd,
		storageReadCmd,
	)
	rootCmd.AddCommand(storageCmd)
}
