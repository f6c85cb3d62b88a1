package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

const auditMedianTime = uint64(1_700_000_000)

func auditKey(t *testing.T, fill byte) crypto.PubKey {
	t.Helper()
	_, pub := ec.PrivateKeyFromBytes(bytes.Repeat([]byte{fill}, 32))
	return crypto.FromEC(pub)
}

func auditTxID(fill byte) chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], bytes.Repeat([]byte{fill}, 32))
	return h
}

func openRecord(t *testing.T, seeker, bidder crypto.PubKey) *escrow.Record {
	t.Helper()
	return &escrow.Record{
		State:       escrow.StateOpen,
		Seeker:      seeker,
		Description: "repave the driveway",
		Deadline:    auditMedianTime + 3600,
		Bounty:      5_000,
		Bids: []escrow.Bid{{
			Furnisher:    bidder,
			Amount:       4_000,
			Plan:         "two passes of asphalt",
			TimeRequired: 86_400,
			Bond:         400,
		}},
		AcceptedBid: escrow.NoAcceptedBid,
	}
}

func assignedRecord(t *testing.T, seeker, bidder crypto.PubKey, bond uint64) *escrow.Record {
	t.Helper()
	return &escrow.Record{
		State:       escrow.StateAssigned,
		Seeker:      seeker,
		Furnisher:   bidder,
		Description: "repave the driveway",
		Deadline:    auditMedianTime - 600,
		Bounty:      5_000,
		Bids: []escrow.Bid{{
			Furnisher:    bidder,
			Amount:       4_000,
			Plan:         "two passes of asphalt",
			TimeRequired: 86_400,
			Bond:         bond,
		}},
		AcceptedBid: 0,
		AcceptedAt:  auditMedianTime - 7_200,
	}
}

func encodedOutput(t *testing.T, fill byte, record *escrow.Record, satoshis uint64) escrow.LookupOutput {
	t.Helper()
	script, err := escrow.EncodeRecord(record)
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	return escrow.LookupOutput{
		TxID:          auditTxID(fill),
		Vout:          0,
		Satoshis:      satoshis,
		LockingScript: script,
	}
}

func newTestExporter(t *testing.T, cfg Config) *Exporter {
	t.Helper()
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(t.TempDir(), "audit")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }
	}
	exporter, err := NewExporter(cfg)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	return exporter
}

func TestExporterDryRunCleanHistory(t *testing.T) {
	seeker := auditKey(t, 0x11)
	bidder := auditKey(t, 0x22)
	answer := &escrow.LookupAnswer{Outputs: []escrow.LookupOutput{
		encodedOutput(t, 0xA1, openRecord(t, seeker, bidder), 5_400),
	}}

	exporter := newTestExporter(t, Config{DryRun: true})
	res, err := exporter.Run(context.Background(), answer, RunOptions{
		Tip: chain.Time{Height: 900_000, MedianTime: auditMedianTime},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %+v", res.Anomalies)
	}
	if len(res.Files) != 0 {
		t.Fatalf("expected no files in dry-run, got %d", len(res.Files))
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected one row, got %d", len(res.Rows))
	}
	row := res.Rows[0]
	if row.State != "open" || row.RequiredLocked != 5_400 || row.ValueMismatch {
		t.Fatalf("unexpected row: %+v", row)
	}
	if res.Totals["open"] != 5_400 {
		t.Fatalf("expected totals to carry locked sats, got %+v", res.Totals)
	}
	if res.RunID == "" {
		t.Fatalf("expected a run id")
	}
}

func TestExporterDetectsValueMismatch(t *testing.T) {
	seeker := auditKey(t, 0x11)
	bidder := auditKey(t, 0x22)
	answer := &escrow.LookupAnswer{Outputs: []escrow.LookupOutput{
		encodedOutput(t, 0xA2, openRecord(t, seeker, bidder), 5_000),
	}}

	var alerts []Anomaly
	exporter := newTestExporter(t, Config{
		DryRun: true,
		Alert: func(_ context.Context, a Anomaly) error {
			alerts = append(alerts, a)
			return nil
		},
	})
	res, err := exporter.Run(context.Background(), answer, RunOptions{
		Tip: chain.Time{MedianTime: auditMedianTime},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Type != AnomalyValueMismatch {
		t.Fatalf("expected a value mismatch anomaly, got %+v", res.Anomalies)
	}
	if !res.Rows[0].ValueMismatch {
		t.Fatalf("expected the row to be flagged")
	}
	if len(alerts) != 1 {
		t.Fatalf("expected alerts to be emitted, got %d", len(alerts))
	}
}

func TestExporterDetectsExpiredDeadline(t *testing.T) {
	seeker := auditKey(t, 0x11)
	bidder := auditKey(t, 0x22)
	answer := &escrow.LookupAnswer{Outputs: []escrow.LookupOutput{
		encodedOutput(t, 0xA3, assignedRecord(t, seeker, bidder, 400), 5_400),
	}}

	exporter := newTestExporter(t, Config{DryRun: true})
	res, err := exporter.Run(context.Background(), answer, RunOptions{
		Tip: chain.Time{MedianTime: auditMedianTime},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Type != AnomalyDeadlineExpired {
		t.Fatalf("expected a deadline anomaly, got %+v", res.Anomalies)
	}
	if !res.Rows[0].DeadlineExpired {
		t.Fatalf("expected the row to be flagged")
	}
}

func TestExporterSkipsDeadlineOnSpentOutputs(t *testing.T) {
	seeker := auditKey(t, 0x11)
	bidder := auditKey(t, 0x22)
	spent := encodedOutput(t, 0xA4, assignedRecord(t, seeker, bidder, 400), 5_400)
	spent.Spent = true
	answer := &escrow.LookupAnswer{Outputs: []escrow.LookupOutput{spent}}

	exporter := newTestExporter(t, Config{DryRun: true})
	res, err := exporter.Run(context.Background(), answer, RunOptions{
		Tip: chain.Time{MedianTime: auditMedianTime},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Anomalies) != 0 {
		t.Fatalf("spent outputs are history, got %+v", res.Anomalies)
	}
}

func TestExporterDetectsLowBond(t *testing.T) {
	seeker := auditKey(t, 0x11)
	bidder := auditKey(t, 0x22)
	record := assignedRecord(t, seeker, bidder, 100)
	record.Deadline = auditMedianTime + 3600
	answer := &escrow.LookupAnswer{Outputs: []escrow.LookupOutput{
		encodedOutput(t, 0xA5, record, 5_100),
	}}

	global := escrow.GlobalConfig{MinBondBps: 1_000}
	exporter := newTestExporter(t, Config{DryRun: true})
	res, err := exporter.Run(context.Background(), answer, RunOptions{
		Tip:    chain.Time{MedianTime: auditMedianTime},
		Global: &global,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Type != AnomalyBondBelowMinimum {
		t.Fatalf("expected a bond anomaly, got %+v", res.Anomalies)
	}
}

func TestExporterReportsUndecodableOutputs(t *testing.T) {
	seeker := auditKey(t, 0x11)
	bidder := auditKey(t, 0x22)
	answer := &escrow.LookupAnswer{Outputs: []escrow.LookupOutput{
		{TxID: auditTxID(0xA6), Vout: 3, Satoshis: 1_000, LockingScript: []byte{0x51}},
		encodedOutput(t, 0xA7, openRecord(t, seeker, bidder), 5_400),
	}}

	exporter := newTestExporter(t, Config{DryRun: true})
	res, err := exporter.Run(context.Background(), answer, RunOptions{
		Tip: chain.Time{MedianTime: auditMedianTime},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected the decodable row only, got %d", len(res.Rows))
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Type != AnomalyUndecodableOutput {
		t.Fatalf("expected an undecodable anomaly, got %+v", res.Anomalies)
	}
	if res.Anomalies[0].Outpoint == "" {
		t.Fatalf("anomaly should name the outpoint")
	}
}

func TestExporterWritesPerStateArtefacts(t *testing.T) {
	seeker := auditKey(t, 0x11)
	bidder := auditKey(t, 0x22)
	outputs := []escrow.LookupOutput{
		encodedOutput(t, 0xB1, openRecord(t, seeker, bidder), 5_400),
		encodedOutput(t, 0xB2, openRecord(t, seeker, bidder), 5_400),
	}
	assigned := assignedRecord(t, seeker, bidder, 400)
	assigned.Deadline = auditMedianTime + 3600
	outputs = append(outputs, encodedOutput(t, 0xB3, assigned, 5_400))
	answer := &escrow.LookupAnswer{Outputs: outputs}

	dir := filepath.Join(t.TempDir(), "audit")
	exporter := newTestExporter(t, Config{OutputDir: dir})
	res, err := exporter.Run(context.Background(), answer, RunOptions{
		Label: "nightly",
		Tip:   chain.Time{MedianTime: auditMedianTime},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("expected artefacts for two states, got %+v", res.Files)
	}

	var openFile ReportFile
	for _, f := range res.Files {
		if f.State == "open" {
			openFile = f
		}
	}
	if openFile.Count != 2 {
		t.Fatalf("expected two open rows, got %+v", openFile)
	}
	if openFile.CSVPath != filepath.Join(dir, "nightly", "open.csv") {
		t.Fatalf("unexpected csv path %s", openFile.CSVPath)
	}

	raw, err := os.Open(openFile.CSVPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer raw.Close()
	records, err := csv.NewReader(raw).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(records))
	}
	if records[0][0] != "txid" || records[1][2] != "open" {
		t.Fatalf("unexpected csv contents: %+v", records[:2])
	}

	info, err := os.Stat(openFile.ParquetPath)
	if err != nil {
		t.Fatalf("stat parquet: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("parquet artefact is empty")
	}
}
