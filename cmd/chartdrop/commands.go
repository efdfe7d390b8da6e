package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ChartDrop/internal/gateway"
	"github.com/dharsanguruparan/ChartDrop/internal/model"
	"github.com/dharsanguruparan/ChartDrop/internal/registrar"
	"github.com/dharsanguruparan/ChartDrop/internal/staging"
	"github.com/dharsanguruparan/ChartDrop/internal/upload"
)

func (a *app) registrar() *registrar.Client {
	return registrar.New(a.apiURL, &http.Client{Timeout: 30 * time.Second}, a.log)
}

func newUploadCmd(a *app) *cobra.Command {
	var (
		subject   string
		encounter string
		category  string
	)
	cmd := &cobra.Command{
		Use:   "upload FILE[=CATEGORY]...",
		Short: "Stage files and commit them for a subject",
		Example: `  chartdrop upload --subject p-104 --encounter enc-9 --category lab results.pdf
  chartdrop upload --subject p-104 chest.png=x-ray scan.stl=3d-model`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(subject) == "" {
				return errors.New("--subject is required")
			}
			queue := staging.NewQueue()
			for _, arg := range args {
				path, cat := splitCategory(arg, category)
				payload, err := staging.NewFilePayload(path)
				if err != nil {
					return err
				}
				if _, err := queue.Add(payload, cat); err != nil {
					return fmt.Errorf("stage %s: %w", path, err)
				}
			}

			var enc *string
			if encounter != "" {
				enc = &encounter
			}
			// Transfers can be long; the gateway relies on the phase timeout.
			gw := gateway.New(&http.Client{}, a.log)
			coord := upload.NewCoordinator(a.registrar(), gw, a.log,
				upload.WithPhaseTimeouts(a.cfg.SlotTimeout, a.cfg.TransferTimeout, a.cfg.ConfirmTimeout),
				upload.WithObserver(func(t upload.Transition) {
					a.log.Debug().Str("temp_id", t.TempID).Stringer("from", t.From).Stringer("to", t.To).Msg("transition")
				}),
			)
			out := cmd.OutOrStdout()
			session := upload.NewSession(queue, coord,
				upload.WithConcurrency(a.cfg.UploadConcurrency),
				upload.WithLogger(a.log),
				upload.WithOutcomeHook(func(o upload.Outcome) {
					fmt.Fprintf(out, "%-9s %s\n", o.State, describe(o))
				}),
			)
			report, err := session.Commit(cmd.Context(), subject, enc)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d succeeded, %d failed, %d cancelled\n", report.Succeeded, report.Failed, report.Cancelled)
			if report.Succeeded != len(report.Outcomes) {
				return fmt.Errorf("%d of %d files were not registered", len(report.Outcomes)-report.Succeeded, len(report.Outcomes))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Subject (patient) identifier")
	cmd.Flags().StringVarP(&encounter, "encounter", "e", "", "Encounter reference")
	cmd.Flags().StringVarP(&category, "category", "c", string(model.CategoryOther), "Default category: x-ray, lab, photo, 3d-model or other")
	return cmd
}

// splitCategory reads a trailing "=CATEGORY" when it names a valid category.
func splitCategory(arg, fallback string) (string, string) {
	i := strings.LastIndexByte(arg, '=')
	if i <= 0 {
		return arg, fallback
	}
	if _, err := model.ParseCategory(arg[i+1:]); err != nil {
		return arg, fallback
	}
	return arg[:i], arg[i+1:]
}

func describe(o upload.Outcome) string {
	switch o.State {
	case upload.StateSucceeded:
		return fmt.Sprintf("%s -> %s", o.Filename, o.Record.ID)
	case upload.StateFailed:
		msg := fmt.Sprintf("%s: %v", o.Filename, o.Err)
		if o.OrphanRisk() {
			msg += fmt.Sprintf(" (object %s may be stored without a record)", o.StorageKey)
		}
		return msg
	default:
		return o.Filename
	}
}

func newListCmd(a *app) *cobra.Command {
	var (
		subject   string
		encounter string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered files for a subject",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(subject) == "" {
				return errors.New("--subject is required")
			}
			var enc *string
			if cmd.Flags().Changed("encounter") {
				enc = &encounter
			}
			files, err := a.registrar().ListFiles(cmd.Context(), subject, enc)
			if err != nil {
				return err
			}
			return printFiles(cmd.OutOrStdout(), files)
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Subject (patient) identifier")
	cmd.Flags().StringVarP(&encounter, "encounter", "e", "", "Only files for this encounter")
	return cmd
}

func printFiles(w io.Writer, files []model.ClinicalFileRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tENCOUNTER\tSIZE\tPAGES\tCREATED\tFILENAME")
	for _, f := range files {
		enc, pages := "-", "-"
		if f.EncounterRef != nil {
			enc = *f.EncounterRef
		}
		if f.PageCount != nil {
			pages = fmt.Sprint(*f.PageCount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			f.ID, f.Category, enc, f.SizeBytes, pages, f.CreatedAt.Format(time.RFC3339), f.OriginalFilename)
	}
	return tw.Flush()
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete FILE_ID...",
		Short: "Delete registered files and their stored objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := a.registrar()
			for _, id := range args {
				if err := reg.DeleteFile(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}
