// Package export writes the visible calendar range and the mutation journal
// to an xlsx workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"strings"

	"agenda/internal/calendar"
	"agenda/internal/journal"

	"github.com/xuri/excelize/v2"
)

const (
	SheetAppointments = "Turnos"
	SheetJournal      = "Historial"
)

var appointmentColumns = []string{
	"ID", "Inicio", "Fin", "Cliente", "Teléfono", "Servicio", "Profesional",
	"Estado", "Precio", "Seña", "Seña pagada", "Pago", "Notificación", "Serie",
}

var journalColumns = []string{"ID", "Fecha", "Acción", "Turnos", "Estado", "Detalle"}

type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	if len(name) > 31 {
		name = name[:31]
	}
	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeRow(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, 1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), 1)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return nil
}

func (w *sheetWriter) writeRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

// Write renders events and, when entries is not nil, the journal into a
// workbook written to out.
func Write(out io.Writer, snap calendar.Snapshot, entries []journal.Entry) error {
	w := newSheetWriter()
	defer w.file.Close()

	if err := w.addSheet(SheetAppointments); err != nil {
		return err
	}
	if err := w.writeHeader(appointmentColumns); err != nil {
		return err
	}
	for _, ev := range snap.Events {
		a := ev.ExtendedProps
		row := []any{
			ev.ID, ev.Start, ev.End, a.CustomerName, a.CustomerPhone, a.ServiceName,
			a.InstructorName, a.Status, a.Price, a.DepositAmount, yesNo(a.DepositPaid),
			a.PaymentStatus, a.NotifyChannel, a.SeriesID,
		}
		if err := w.writeRow(row); err != nil {
			return fmt.Errorf("write appointment %s: %w", ev.ID, err)
		}
	}

	if entries != nil {
		if err := w.addSheet(SheetJournal); err != nil {
			return err
		}
		if err := w.writeHeader(journalColumns); err != nil {
			return err
		}
		for _, e := range entries {
			row := []any{
				e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action,
				strings.Join(e.AppointmentIDs, ", "), e.Status, e.Detail,
			}
			if err := w.writeRow(row); err != nil {
				return fmt.Errorf("write journal entry %d: %w", e.ID, err)
			}
		}
	}

	if err := w.file.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteFile is Write to a file path.
func WriteFile(path string, snap calendar.Snapshot, entries []journal.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f, snap, entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func yesNo(b bool) string {
	if b {
		return "sí"
	}
	return "no"
}
