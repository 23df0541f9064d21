package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iconidentify/captionlab/internal/service"
	"github.com/iconidentify/captionlab/pkg/crypto"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List datasets with image counts and ages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.ErrOrStderr(), func(s *services) error {
				list, err := s.datasets.ListMetadata(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, list)
				}

				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(list))
				for _, md := range list {
					rows = append(rows, []string{md.Name, strconv.Itoa(md.Images), md.Size, md.Created, md.Modified})
				}
				if !isTerminal(out) {
					fmt.Fprint(out, renderPlain(rows))
					return nil
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, "No datasets")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Name", "Images", "Size", "Created", "Modified"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "import <archive.zip|url>",
		Short: "Import a zip archive or an http(s) archive URL as a new dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			remote := isRemote(source)

			uploadName := filepath.Base(source)
			if remote {
				u, err := url.Parse(source)
				if err != nil {
					return fmt.Errorf("parse url %q: %w", source, err)
				}
				uploadName = path.Base(u.Path)
			}
			base, err := service.DatasetNameFromUpload(uploadName)
			if err != nil {
				return err
			}
			if name != "" {
				base = name
			}
			if !remote {
				if _, err := os.Stat(source); err != nil {
					return fmt.Errorf("inspect archive %q: %w", source, err)
				}
			}

			return ctx.withServices(cmd.ErrOrStderr(), func(s *services) error {
				archive := source
				if remote {
					fetched, err := s.fetchArchive(cmd.Context(), source)
					if err != nil {
						return err
					}
					defer os.Remove(fetched)
					archive = fetched
				}

				created, err := s.importer.ImportArchive(cmd.Context(), archive, base)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), created)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Dataset base name (defaults to the archive name)")
	return cmd
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// fetchArchive downloads a remote archive into the transfer directory and
// returns the local path.
func (s *services) fetchArchive(ctx context.Context, source string) (string, error) {
	target := filepath.Join(s.cfg.Storage.TransferPath, "fetch-"+uuid.NewString()+".zip")
	if _, err := s.downloader.DownloadToFile(ctx, source, target, s.cfg.Storage.MaxUploadSize); err != nil {
		return "", err
	}
	return target, nil
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output, passphraseFile string
	var seal bool

	cmd := &cobra.Command{
		Use:   "export <dataset>",
		Short: "Write a dataset's captions to a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var passphrase string
			if seal || passphraseFile != "" {
				p, err := readPassphrase(passphraseFile)
				if err != nil {
					return err
				}
				passphrase = p
			}

			return ctx.withServices(cmd.ErrOrStderr(), func(s *services) error {
				bundle, err := s.exporter.Export(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				defer bundle.Close()

				target := output
				if target == "" {
					target = bundle.Filename
					if passphrase != "" {
						target += crypto.Extension
					}
				}
				if passphrase != "" {
					err = sealBundle(bundle, target, passphrase)
				} else {
					err = copyBundle(bundle, target)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d caption(s) to %s\n", bundle.Files, target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to <dataset>.zip)")
	cmd.Flags().BoolVar(&seal, "seal", false, "Encrypt the archive with the passphrase from "+passphraseEnv)
	cmd.Flags().StringVar(&passphraseFile, "passphrase-file", "", "Encrypt the archive with the passphrase in this file")
	return cmd
}

func sealBundle(bundle *service.ExportBundle, target, passphrase string) error {
	src, err := bundle.Open()
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer src.Close()
	return crypto.SealReader(src, target, passphrase)
}

func newDecryptCommand() *cobra.Command {
	var output, passphraseFile string

	cmd := &cobra.Command{
		Use:   "decrypt <archive" + crypto.Extension + ">",
		Short: "Decrypt a sealed caption archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := readPassphrase(passphraseFile)
			if err != nil {
				return err
			}
			target := output
			if target == "" {
				target = strings.TrimSuffix(args[0], crypto.Extension)
				if target == args[0] {
					target += ".zip"
				}
			}
			if err := crypto.OpenFile(args[0], target, passphrase); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to the input without "+crypto.Extension+")")
	cmd.Flags().StringVar(&passphraseFile, "passphrase-file", "", "File holding the passphrase")
	return cmd
}

const passphraseEnv = "CAPTIONCTL_PASSPHRASE"

// readPassphrase returns the first line of file, or $CAPTIONCTL_PASSPHRASE
// when file is empty.
func readPassphrase(file string) (string, error) {
	var passphrase string
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		passphrase, _, _ = strings.Cut(string(data), "\n")
		passphrase = strings.TrimSuffix(passphrase, "\r")
	} else {
		passphrase = os.Getenv(passphraseEnv)
	}
	if passphrase == "" {
		return "", fmt.Errorf("no passphrase: pass --passphrase-file or set %s", passphraseEnv)
	}
	return passphrase, nil
}

func copyBundle(bundle *service.ExportBundle, target string) error {
	src, err := bundle.Open()
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(target)
		return fmt.Errorf("write %s: %w", target, err)
	}
	return dst.Close()
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <dataset>",
		Short: "Delete a dataset and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %q without --yes", args[0])
			}
			return ctx.withServices(cmd.ErrOrStderr(), func(s *services) error {
				if err := s.datasets.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

func newCaptionsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "captions <dataset>",
		Short: "Show each image of a dataset with its caption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.ErrOrStderr(), func(s *services) error {
				pairs, err := s.datasets.Pairs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, pairs)
				}

				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(pairs))
				for _, p := range pairs {
					rows = append(rows, []string{p.ImageFilename, oneLine(p.Caption)})
				}
				if !isTerminal(out) {
					fmt.Fprint(out, renderPlain(rows))
					return nil
				}
				fmt.Fprintln(out, renderTable([]string{"Image", "Caption"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

// oneLine collapses whitespace so a caption fits in a single cell.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
