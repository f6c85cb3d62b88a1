// Package audit materialises escrow history exports for reconciliation.
// Each run decodes a batch of overlay outputs, flags records that violate
// protocol arithmetic or deadlines, and writes per-state CSV and Parquet
// artefacts for downstream compliance tooling.
package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

// Anomaly types emitted by the exporter.
const (
	AnomalyUndecodableOutput = "undecodable_output"
	AnomalyValueMismatch     = "value_mismatch"
	AnomalyDeadlineExpired   = "deadline_expired"
	AnomalyBondBelowMinimum  = "bond_below_minimum"
)

// AlertFunc is invoked for every anomaly detected during an export run.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

// Config captures the dependencies required to construct an Exporter.
type Config struct {
	OutputDir string
	DryRun    bool
	Now       func() time.Time
	Alert     AlertFunc
	Logger    *slog.Logger
}

// RunOptions specifies overrides for a single export run. Tip supplies the
// chain clock used to classify deadlines; Global, when set, enables the
// protocol parameter checks.
type RunOptions struct {
	Label  string
	Tip    chain.Time
	Global *escrow.GlobalConfig
	DryRun bool
}

// Exporter turns overlay lookup answers into reconciliation artefacts.
type Exporter struct {
	outputDir string
	dryRun    bool
	now       func() time.Time
	alert     AlertFunc
	logger    *slog.Logger
}

// Anomaly captures an export finding requiring operator review.
type Anomaly struct {
	Type     string
	Outpoint string
	State    string
	Details  string
}

// ReportRow summarises one decoded escrow output.
type ReportRow struct {
	TxID            string
	Vout            uint32
	State           string
	Seeker          string
	Furnisher       string
	Bounty          uint64
	RequiredLocked  uint64
	LockedSatoshis  uint64
	Deadline        uint64
	AcceptedAt      uint64
	CompletedAt     uint64
	BidCount        int
	AcceptedAmount  uint64
	AcceptedBond    uint64
	SeekerShare     uint64
	FurnisherShare  uint64
	ArbitrationFee  uint64
	Spent           bool
	DeadlineExpired bool
	ValueMismatch   bool
	TipHeight       uint32
	TipMedianTime   uint64
	ObservedAt      time.Time
}

// ReportFile references the CSV and Parquet artefacts generated for one state.
type ReportFile struct {
	State       string
	CSVPath     string
	ParquetPath string
	Count       int
}

// Result summarises an export run. Totals holds locked satoshis per state.
type Result struct {
	RunID     string
	Label     string
	Rows      []*ReportRow
	Files     []ReportFile
	Anomalies []Anomaly
	Totals    map[string]uint64
}

// NewExporter builds a configured exporter.
func NewExporter(cfg Config) (*Exporter, error) {
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("escrow-data-local", "audit")
	}
	alert := cfg.Alert
	if alert == nil {
		alert = func(ctx context.Context, anomaly Anomaly) error {
			return nil
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Exporter{
		outputDir: outputDir,
		dryRun:    cfg.DryRun,
		now:       nowFn,
		alert:     alert,
		logger:    logger,
	}, nil
}

// Run decodes the supplied answer and writes the artefacts for it. Outputs
// that fail to decode become anomalies rather than aborting the run.
func (e *Exporter) Run(ctx context.Context, answer *escrow.LookupAnswer, opts RunOptions) (*Result, error) {
	if answer == nil {
		return nil, errors.New("audit: answer is required")
	}
	dryRun := e.dryRun || opts.DryRun
	observedAt := e.now()
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = observedAt.Format("20060102T150405Z")
	}

	rows := make([]*ReportRow, 0, len(answer.Outputs))
	totals := make(map[string]uint64)
	anomalies := make([]Anomaly, 0)

	for i := range answer.Outputs {
		entry := &answer.Outputs[i]
		outpoint := fmt.Sprintf("%s:%d", entry.TxID.String(), entry.Vout)
		tx, err := escrow.RecordFromOutput(entry.TxID, entry.Vout, entry.LockingScript, entry.Satoshis)
		if err != nil {
			anomalies = append(anomalies, e.raise(ctx, Anomaly{
				Type:     AnomalyUndecodableOutput,
				Outpoint: outpoint,
				Details:  err.Error(),
			}))
			continue
		}
		record := tx.Record
		state := record.State.String()

		row := &ReportRow{
			TxID:           entry.TxID.String(),
			Vout:           entry.Vout,
			State:          state,
			Seeker:         record.Seeker.String(),
			Bounty:         record.Bounty,
			LockedSatoshis: entry.Satoshis,
			Deadline:       record.Deadline,
			AcceptedAt:     record.AcceptedAt,
			CompletedAt:    record.CompletedAt,
			BidCount:       len(record.Bids),
			Spent:          entry.Spent,
			TipHeight:      opts.Tip.Height,
			TipMedianTime:  opts.Tip.MedianTime,
			ObservedAt:     observedAt,
		}
		if !record.Furnisher.IsZero() {
			row.Furnisher = record.Furnisher.String()
		}
		if bid := record.AcceptedBidRef(); bid != nil {
			row.AcceptedAmount = bid.Amount
			row.AcceptedBond = bid.Bond
			if opts.Global != nil {
				if min := opts.Global.MinBond(bid.Amount); bid.Bond < min {
					anomalies = append(anomalies, e.raise(ctx, Anomaly{
						Type:     AnomalyBondBelowMinimum,
						Outpoint: outpoint,
						State:    state,
						Details:  fmt.Sprintf("bond %d below minimum %d for bid %d", bid.Bond, min, bid.Amount),
					}))
				}
			}
		}

		required, lockErr := record.TotalLocked()
		switch {
		case lockErr != nil:
			row.ValueMismatch = true
			anomalies = append(anomalies, e.raise(ctx, Anomaly{
				Type:     AnomalyValueMismatch,
				Outpoint: outpoint,
				State:    state,
				Details:  lockErr.Error(),
			}))
		case required != entry.Satoshis:
			row.RequiredLocked = required
			row.ValueMismatch = true
			anomalies = append(anomalies, e.raise(ctx, Anomaly{
				Type:     AnomalyValueMismatch,
				Outpoint: outpoint,
				State:    state,
				Details:  fmt.Sprintf("locked %d sat, record requires %d", entry.Satoshis, required),
			}))
		default:
			row.RequiredLocked = required
		}

		if record.Resolution != nil {
			row.SeekerShare = record.Resolution.AmountForSeeker
			row.FurnisherShare = record.Resolution.AmountForFurnisher
			shares := record.Resolution.AmountForSeeker + record.Resolution.AmountForFurnisher
			if entry.Satoshis > shares {
				row.ArbitrationFee = entry.Satoshis - shares
			}
		}

		if deadlineExpired(record, opts.Tip) && !entry.Spent {
			row.DeadlineExpired = true
			anomalies = append(anomalies, e.raise(ctx, Anomaly{
				Type:     AnomalyDeadlineExpired,
				Outpoint: outpoint,
				State:    state,
				Details:  fmt.Sprintf("deadline %d passed at median time %d", record.Deadline, opts.Tip.MedianTime),
			}))
		}

		rows = append(rows, row)
		totals[state] += entry.Satoshis
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].State != rows[j].State {
			return rows[i].State < rows[j].State
		}
		if rows[i].TxID != rows[j].TxID {
			return rows[i].TxID < rows[j].TxID
		}
		return rows[i].Vout < rows[j].Vout
	})

	files := make([]ReportFile, 0)
	if !dryRun {
		runDir := filepath.Join(e.outputDir, label)
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: ensure output dir: %w", err)
		}
		for _, state := range groupStates(rows) {
			entries := rowsForState(rows, state)
			csvPath, parquetPath, err := e.writeReportFiles(runDir, state, entries)
			if err != nil {
				return nil, err
			}
			files = append(files, ReportFile{
				State:       state,
				CSVPath:     csvPath,
				ParquetPath: parquetPath,
				Count:       len(entries),
			})
		}
	}

	result := &Result{
		RunID:     uuid.NewString(),
		Label:     label,
		Rows:      rows,
		Files:     files,
		Anomalies: anomalies,
		Totals:    totals,
	}
	e.logger.Info("audit export complete",
		"label", label,
		"rows", len(rows),
		"files", len(files),
		"anomalies", len(anomalies),
	)
	return result, nil
}

func (e *Exporter) raise(ctx context.Context, anomaly Anomaly) Anomaly {
	if e.alert != nil {
		if err := e.alert(ctx, anomaly); err != nil {
			e.logger.Warn("audit alert delivery failed", "type", anomaly.Type, "error", err.Error())
		}
	}
	return anomaly
}

// deadlineExpired reports whether an active record's deadline sits behind
// the chain clock. Terminal and resolved states never expire.
func deadlineExpired(record *escrow.Record, tip chain.Time) bool {
	switch record.State {
	case escrow.StateOpen, escrow.StateAssigned, escrow.StateInProgress:
	default:
		return false
	}
	return record.Deadline > 0 && tip.MedianTime > record.Deadline
}

func groupStates(rows []*ReportRow) []string {
	seen := map[string]bool{}
	states := make([]string, 0)
	for _, row := range rows {
		if !seen[row.State] {
			states = append(states, row.State)
			seen[row.State] = true
		}
	}
	sort.Strings(states)
	return states
}

func rowsForState(rows []*ReportRow, state string) []*ReportRow {
	matched := make([]*ReportRow, 0)
	for _, row := range rows {
		if row.State == state {
			matched = append(matched, row)
		}
	}
	return matched
}

func (e *Exporter) writeReportFiles(baseDir, state string, rows []*ReportRow) (string, string, error) {
	if len(rows) == 0 {
		return "", "", nil
	}
	csvPath := filepath.Join(baseDir, state+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return "", "", err
	}
	parquetPath := filepath.Join(baseDir, state+".parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return "", "", err
	}
	e.logger.Info("audit export wrote artefacts", "state", state, "rows", len(rows), "csv", csvPath, "parquet", parquetPath)
	return csvPath, parquetPath, nil
}

func writeCSV(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"txid", "vout", "state", "seeker", "furnisher", "bounty_sat", "required_locked_sat", "locked_sat",
		"deadline", "accepted_at", "completed_at", "bid_count", "accepted_amount_sat", "accepted_bond_sat",
		"seeker_share_sat", "furnisher_share_sat", "arbitration_fee_sat", "spent", "deadline_expired",
		"value_mismatch", "tip_height", "tip_median_time", "observed_at",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.TxID,
			fmt.Sprintf("%d", row.Vout),
			row.State,
			row.Seeker,
			row.Furnisher,
			fmt.Sprintf("%d", row.Bounty),
			fmt.Sprintf("%d", row.RequiredLocked),
			fmt.Sprintf("%d", row.LockedSatoshis),
			fmt.Sprintf("%d", row.Deadline),
			fmt.Sprintf("%d", row.AcceptedAt),
			fmt.Sprintf("%d", row.CompletedAt),
			fmt.Sprintf("%d", row.BidCount),
			fmt.Sprintf("%d", row.AcceptedAmount),
			fmt.Sprintf("%d", row.AcceptedBond),
			fmt.Sprintf("%d", row.SeekerShare),
			fmt.Sprintf("%d", row.FurnisherShare),
			fmt.Sprintf("%d", row.ArbitrationFee),
			boolString(row.Spent),
			boolString(row.DeadlineExpired),
			boolString(row.ValueMismatch),
			fmt.Sprintf("%d", row.TipHeight),
			fmt.Sprintf("%d", row.TipMedianTime),
			row.ObservedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	TxID            string `parquet:"name=txid, type=BYTE_ARRAY, convertedtype=UTF8"`
	Vout            int32  `parquet:"name=vout, type=INT32"`
	State           string `parquet:"name=state, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seeker          string `parquet:"name=seeker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Furnisher       string `parquet:"name=furnisher, type=BYTE_ARRAY, convertedtype=UTF8"`
	BountySat       int64  `parquet:"name=bounty_sat, type=INT64"`
	RequiredSat     int64  `parquet:"name=required_locked_sat, type=INT64"`
	LockedSat       int64  `parquet:"name=locked_sat, type=INT64"`
	Deadline        int64  `parquet:"name=deadline, type=INT64"`
	AcceptedAt      int64  `parquet:"name=accepted_at, type=INT64"`
	CompletedAt     int64  `parquet:"name=completed_at, type=INT64"`
	BidCount        int32  `parquet:"name=bid_count, type=INT32"`
	AcceptedAmount  int64  `parquet:"name=accepted_amount_sat, type=INT64"`
	AcceptedBond    int64  `parquet:"name=accepted_bond_sat, type=INT64"`
	SeekerShare     int64  `parquet:"name=seeker_share_sat, type=INT64"`
	FurnisherShare  int64  `parquet:"name=furnisher_share_sat, type=INT64"`
	ArbitrationFee  int64  `parquet:"name=arbitration_fee_sat, type=INT64"`
	Spent           bool   `parquet:"name=spent, type=BOOLEAN"`
	DeadlineExpired bool   `parquet:"name=deadline_expired, type=BOOLEAN"`
	ValueMismatch   bool   `parquet:"name=value_mismatch, type=BOOLEAN"`
	TipHeight       int32  `parquet:"name=tip_height, type=INT32"`
	TipMedianTime   int64  `parquet:"name=tip_median_time, type=INT64"`
	ObservedAt      string `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			TxID:            row.TxID,
			Vout:            int32(row.Vout),
			State:           row.State,
			Seeker:          row.Seeker,
			Furnisher:       row.Furnisher,
			BountySat:       int64(row.Bounty),
			RequiredSat:     int64(row.RequiredLocked),
			LockedSat:       int64(row.LockedSatoshis),
			Deadline:        int64(row.Deadline),
			AcceptedAt:      int64(row.AcceptedAt),
			CompletedAt:     int64(row.CompletedAt),
			BidCount:        int32(row.BidCount),
			AcceptedAmount:  int64(row.AcceptedAmount),
			AcceptedBond:    int64(row.AcceptedBond),
			SeekerShare:     int64(row.SeekerShare),
			FurnisherShare:  int64(row.FurnisherShare),
			ArbitrationFee:  int64(row.ArbitrationFee),
			Spent:           row.Spent,
			DeadlineExpired: row.DeadlineExpired,
			ValueMismatch:   row.ValueMismatch,
			TipHeight:       int32(row.TipHeight),
			TipMedianTime:   int64(row.TipMedianTime),
			ObservedAt:      row.ObservedAt.Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
