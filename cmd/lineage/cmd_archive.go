// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lineage/services/lineage/archive"
	"github.com/AleutianAI/lineage/services/lineage/document"
	"github.com/AleutianAI/lineage/services/lineage/model"
	"github.com/AleutianAI/lineage/services/lineage/storage/badger"
	"github.com/AleutianAI/lineage/services/lineage/tracker"
)

func (a *app) archiveCmd() *cobra.Command {
	var dbPath string

	// withStore opens the archive for the duration of fn.
	withStore := func(readOnly bool, fn func(*archive.Store) error) error {
		path := dbPath
		if path == "" {
			path = a.cfg.Archive.Path
		}
		cfg := badger.DefaultConfig(expandHome(path))
		cfg.SyncWrites = a.cfg.Archive.SyncWrites
		cfg.GCInterval = a.cfg.Archive.GCInterval
		cfg.ReadOnly = readOnly
		cfg.Logger = a.logger.Slog()

		db, err := badger.OpenDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(archive.New(db, a.logger.Slog()))
	}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Keep model histories in a local BadgerDB archive",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "archive directory (default from config)")

	put := &cobra.Command{
		Use:   "put <history.json[.gz]>",
		Short: "Archive a history document, replacing any previous archive of the model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, id, err := a.loadHistory(cmd, args[0])
			if err != nil {
				return err
			}
			return withStore(false, func(s *archive.Store) error {
				if err := tr.ArchiveHistory(cmd.Context(), id, s); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}

	var out string
	get := &cobra.Command{
		Use:   "get <modelId>",
		Short: "Restore an archived history to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := model.ParseID(args[0])
			if err != nil {
				return err
			}
			tr := tracker.New(tracker.WithLogger(a.logger.Slog()))
			err = withStore(true, func(s *archive.Store) error {
				return tr.RestoreHistory(cmd.Context(), id, s)
			})
			if err != nil {
				return err
			}
			if out == "" {
				return document.Encode(cmd.OutOrStdout(), tr.ExportHistory(id))
			}
			return tr.ExportHistoryFile(cmd.Context(), id, out)
		},
	}
	get.Flags().StringVarP(&out, "output", "o", "", "output path (default stdout)")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List archived models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(true, func(s *archive.Store) error {
				entries, err := s.Models(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "MODEL\tNAME\tSNAPSHOTS\tARCHIVED")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.ModelID, e.ModelName, e.Snapshots, e.ArchivedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm <modelId>",
		Short: "Delete a model's archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := model.ParseID(args[0])
			if err != nil {
				return err
			}
			err = withStore(false, func(s *archive.Store) error {
				return s.Delete(cmd.Context(), id)
			})
			if err != nil {
				return err
			}
			a.printer(cmd).Success("deleted " + id.String())
			return nil
		},
	}

	cmd.AddCommand(put, get, ls, rm)
	return cmd
}
