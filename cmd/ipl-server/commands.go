package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openimagingdata/ipl/internal/config"
	"github.com/openimagingdata/ipl/internal/domain/efl"
	"github.com/openimagingdata/ipl/internal/domain/findinginfo"
	"github.com/openimagingdata/ipl/internal/domain/problemlist"
	"github.com/openimagingdata/ipl/internal/platform/db"
	"github.com/openimagingdata/ipl/internal/platform/mapping"
	"github.com/openimagingdata/ipl/internal/platform/reportstore"
)

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func eflCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "efl",
		Short: "Work with exam finding lists",
	}

	defaults := efl.DefaultImportOptions()
	importCmd := &cobra.Command{
		Use:   "import <xlsx> <out_dir>",
		Short: "Convert a findings workbook into one EFL file per exam",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := efl.DefaultImportOptions()
			opts.PatientMRN, _ = cmd.Flags().GetString("patient-mrn")
			opts.PatientDOB, _ = cmd.Flags().GetString("patient-dob")
			opts.YearOffset, _ = cmd.Flags().GetInt("year-offset")

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := efl.ImportWorkbook(f, opts)
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			paths, err := efl.WriteDir(args[1], res.Exams)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d exam(s) with %d warning(s).\n", len(res.Exams), len(res.Warnings))
			return nil
		},
	}
	importCmd.Flags().String("patient-mrn", defaults.PatientMRN, "Patient identifier written into every EFL")
	importCmd.Flags().String("patient-dob", defaults.PatientDOB, "Patient date of birth (YYYY-MM-DD)")
	importCmd.Flags().Int("year-offset", defaults.YearOffset, "Years added to every exam date")
	cmd.AddCommand(importCmd)

	return cmd
}

func iplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ipl",
		Short: "Build, load and inspect imaging problem lists",
	}

	buildCmd := &cobra.Command{
		Use:   "build <efl_dir> <out_file>",
		Short: "Fold a patient's EFL files into a longitudinal record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("patient-name")
			dataDir, _ := cmd.Flags().GetString("data-dir")

			efls, rec, err := buildRecord(cmd.ErrOrStderr(), args[0], name)
			if err != nil {
				return err
			}
			if err := efl.WriteJSON(args[1], rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d finding(s) from %d exam(s) to %s\n", len(rec.Findings), len(efls), args[1])

			if dataDir != "" {
				if err := efl.WriteLayout(dataDir, rec, efls); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added patient %s to %s\n", rec.Patient.ID, dataDir)
			}
			return nil
		},
	}
	buildCmd.Flags().String("patient-name", "", "Patient display name")
	buildCmd.Flags().String("data-dir", "", "Also write the record into this file data source directory")
	cmd.AddCommand(buildCmd)

	loadCmd := &cobra.Command{
		Use:   "load <efl_dir>",
		Short: "Build a record from EFL files and store it in PostgreSQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("patient-name")
			ctx := cmd.Context()

			efls, rec, err := buildRecord(cmd.ErrOrStderr(), args[0], name)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := problemlist.NewRecordRepoPG(pool)
			if err := repo.SaveRecord(ctx, rec); err != nil {
				return fmt.Errorf("save record: %w", err)
			}

			var reports reportstore.Store
			if cfg.ReportStore == config.ReportStoreMinio {
				reports, err = reportstore.NewMinio(ctx, reportstore.MinioConfig{
					Endpoint:  cfg.MinioEndpoint,
					AccessKey: cfg.MinioAccessKey,
					SecretKey: cfg.MinioSecretKey,
					Bucket:    cfg.MinioBucket,
					Region:    cfg.MinioRegion,
					UseSSL:    cfg.MinioUseSSL,
				})
				if err != nil {
					return fmt.Errorf("connect to report store: %w", err)
				}
			}

			for _, e := range efls {
				exam := efl.ExamOf(e)
				if err := repo.SaveExam(ctx, rec.Patient.ID, exam); err != nil {
					return fmt.Errorf("save exam %s: %w", exam.ReportID, err)
				}
				if reports != nil && exam.ReportText != "" {
					if err := reports.Put(ctx, rec.Patient.ID, exam.ReportID, exam.ReportText); err != nil {
						return fmt.Errorf("store report %s: %w", exam.ReportID, err)
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded patient %s: %d finding(s), %d exam(s)\n", rec.Patient.ID, len(rec.Findings), len(efls))
			return nil
		},
	}
	loadCmd.Flags().String("patient-name", "", "Patient display name")
	cmd.AddCommand(loadCmd)

	showCmd := &cobra.Command{
		Use:   "show <patient-id>",
		Short: "Print a patient's sectioned problem list from the configured data source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			region, _ := cmd.Flags().GetString("region")
			asJSON, _ := cmd.Flags().GetBool("json")

			filter, err := problemlist.ParseFilter(status, region)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			vocab, err := problemlist.ParseVocabulary(cfg.StatusVocabulary)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel)
			d, cleanup, err := buildDeps(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			svc := problemlist.NewService(d.records, vocab, logger)
			svc.SetRegionTables(d.mappings)
			svc.SetExamTypes(d.mappings)
			if d.reports != nil {
				svc.SetReportStore(d.reports)
			}

			list, err := svc.ProblemList(ctx, args[0], filter)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			printProblemList(cmd.OutOrStdout(), list)
			return nil
		},
	}
	showCmd.Flags().String("status", "all", "Status filter: all, current, resolved, ever-present, never")
	showCmd.Flags().String("region", "all", "Body region filter")
	showCmd.Flags().Bool("json", false, "Print the problem list as JSON")
	cmd.AddCommand(showCmd)

	return cmd
}

// buildRecord reads the EFLs of dir and folds them into a record, reporting
// skipped findings to w.
func buildRecord(w io.Writer, dir, patientName string) ([]*efl.ExamFindingList, *problemlist.Record, error) {
	efls, err := efl.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	rec, skipped, err := efl.BuildRecord(efls, patientName)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range skipped {
		fmt.Fprintf(w, "warning: skipped %s in report %s: %v\n", s.ObservationID, s.ReportID, s.Err)
	}
	return efls, rec, nil
}

func printProblemList(w io.Writer, list *problemlist.ProblemList) {
	name := list.Patient.ID
	if list.Patient.Name != "" {
		name = fmt.Sprintf("%s (%s)", list.Patient.Name, list.Patient.ID)
	}
	fmt.Fprintf(w, "Patient: %s\n", name)
	fmt.Fprintf(w, "Showing %d of %d finding(s) [status=%s region=%s]\n",
		len(list.Findings), list.Total, list.Filter.Status, list.Filter.Region)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, sec := range list.Sections {
		fmt.Fprintf(tw, "\n%s (%d)\n", sec.Label, len(sec.Items))
		for _, it := range sec.Items {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d obs\tlast %s\n",
				it.FindingTypeCode, it.FindingTypeDisplay, strings.Join(it.Regions, ","),
				it.ObservationCount, it.MostRecentDate)
		}
	}
	tw.Flush()
}

func findingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Derive display data from finding definitions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "display-info <enriched_findings.json> <out.json>",
		Short: "Write the display info of every finding definition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := findinginfo.LoadDefinitions(args[0])
			if err != nil {
				return err
			}
			info := findinginfo.ProcessAll(defs)
			if err := efl.WriteJSON(args[1], info); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote display info for %d finding(s) to %s\n", len(info), args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "region-table <enriched_findings.json> <out.yaml>",
		Short: "Write a region mapping table derived from finding body regions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := findinginfo.LoadDefinitions(args[0])
			if err != nil {
				return err
			}
			table := findinginfo.RegionTable(defs)
			if err := mapping.WriteRegionTable(args[1], table); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d region mapping(s) to %s\n", len(table), args[1])
			return nil
		},
	})

	return cmd
}
