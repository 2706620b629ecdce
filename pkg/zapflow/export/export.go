// Package export appends registration form submissions to an Excel
// workbook, mirroring the spreadsheet the back office already works with.
// Uses excelize for the xlsx handling.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jholhewres/zapflow/pkg/zapflow/directory"
)

// Config holds the Excel export configuration.
type Config struct {
	// Path is the workbook file. Empty disables the export.
	Path string `yaml:"path"`

	// Sheet is the worksheet name. Defaults to "Cadastros".
	Sheet string `yaml:"sheet"`
}

// header is the fixed column layout, written when the workbook is created.
var header = []string{
	"Data", "Nome", "Email", "Telefone", "WhatsApp", "CEP", "Endereço",
	"Número", "Complemento", "Bairro", "Cidade", "Estado", "Gênero", "CPF/CNPJ",
}

// Writer appends submissions to the workbook. Appends are serialized; the
// workbook is read, extended and rewritten whole, which is fine at form
// submission rates.
type Writer struct {
	cfg    Config
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates an export writer.
func New(cfg Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Sheet == "" {
		cfg.Sheet = "Cadastros"
	}
	return &Writer{cfg: cfg, logger: logger.With("component", "export")}
}

// Enabled reports whether a workbook path is configured.
func (w *Writer) Enabled() bool {
	return w.cfg.Path != ""
}

// Append adds one submission row to the workbook, creating it with the
// header row on first use.
func (w *Writer) Append(s *directory.Submission) error {
	if !w.Enabled() {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, fresh, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if fresh {
		if err := w.writeHeader(f); err != nil {
			return err
		}
	}

	rows, err := f.GetRows(w.cfg.Sheet)
	if err != nil {
		return fmt.Errorf("reading sheet %q: %w", w.cfg.Sheet, err)
	}
	rowNum := len(rows) + 1

	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row := []any{
		created.Format("02/01/2006 15:04"),
		s.Nome, s.Email, s.Telefone, s.Whatsapp, s.CEP, s.Endereco,
		s.Numero, s.Complemento, s.Bairro, s.Cidade, s.Estado,
		s.Genero, s.CpfCnpj,
	}

	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("computing row cell: %w", err)
	}
	if err := f.SetSheetRow(w.cfg.Sheet, cell, &row); err != nil {
		return fmt.Errorf("writing submission row: %w", err)
	}

	if err := f.SaveAs(w.cfg.Path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}

	w.logger.Info("submission exported", "row", rowNum, "path", w.cfg.Path)
	return nil
}

// open loads the workbook, creating a new one when the file is missing.
// fresh reports that a header row is still needed.
func (w *Writer) open() (f *excelize.File, fresh bool, err error) {
	if _, statErr := os.Stat(w.cfg.Path); os.IsNotExist(statErr) {
		f = excelize.NewFile()
		defaultSheet := f.GetSheetName(0)
		if defaultSheet != w.cfg.Sheet {
			if _, err := f.NewSheet(w.cfg.Sheet); err != nil {
				return nil, false, fmt.Errorf("creating sheet %q: %w", w.cfg.Sheet, err)
			}
			if err := f.DeleteSheet(defaultSheet); err != nil {
				return nil, false, fmt.Errorf("removing default sheet: %w", err)
			}
		}
		return f, true, nil
	}

	f, err = excelize.OpenFile(w.cfg.Path)
	if err != nil {
		return nil, false, fmt.Errorf("opening workbook %q: %w", w.cfg.Path, err)
	}
	return f, false, nil
}

func (w *Writer) writeHeader(f *excelize.File) error {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	if err := f.SetSheetRow(w.cfg.Sheet, "A1", &cells); err != nil {
		return fmt.Errorf("writing header row: %w", err)
	}
	return nil
}
