// Package reporter renders run reports for operator review.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured output for programmatic consumption
//   - CSV: one row per decision for spreadsheet review
//
// The console report leads with the run header (id, mode, applied
// counts) so an operator can tell at a glance whether anything was
// persisted, then walks the engines in pipeline order: match decisions,
// reversal pairs, duplicate groups, credit proposals.
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"ledger-reconciliation-engine/internal/controller"
	"ledger-reconciliation-engine/internal/matcher"
	"ledger-reconciliation-engine/internal/models"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported.
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds report generation options.
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Section toggles
	IncludeLinkedDecisions bool `json:"include_linked_decisions"`
	IncludeAmbiguous       bool `json:"include_ambiguous"`
	IncludeUnmatched       bool `json:"include_unmatched"`
	IncludePairs           bool `json:"include_pairs"`
	IncludeDuplicates      bool `json:"include_duplicates"`
	IncludeCredits         bool `json:"include_credits"`

	// Console options
	MaxItems int `json:"max_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration.
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeLinkedDecisions: false,
		IncludeAmbiguous:       true,
		IncludeUnmatched:       true,
		IncludePairs:           true,
		IncludeDuplicates:      true,
		IncludeCredits:         true,
		MaxItems:               10,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration.
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItems < 1 {
		return fmt.Errorf("max items must be at least 1, got %d", c.MaxItems)
	}
	return nil
}

// ReportGenerator renders run reports in the configured format.
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a report generator. A nil config falls back
// to DefaultReportConfig.
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport renders a run report to the writer.
func (rg *ReportGenerator) GenerateReport(report *controller.RunReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("run report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *controller.RunReport, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION RUN REPORT\n")
	fmt.Fprintf(writer, "Run ID:    %s\n", report.RunID)
	fmt.Fprintf(writer, "Mode:      %s\n", report.Mode)
	fmt.Fprintf(writer, "Started:   %s\n", report.StartedAt.Format(time.RFC3339))
	if !report.FinishedAt.IsZero() {
		fmt.Fprintf(writer, "Finished:  %s\n", report.FinishedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(writer, "\n")

	rg.printAppliedCounts(report, writer)

	if report.Match != nil {
		fmt.Fprintf(writer, "=== MATCHING ===\n")
		rg.printMatchSummary(report.Match, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludePairs && report.NSF != nil && len(report.NSF.Pairs) > 0 {
		fmt.Fprintf(writer, "=== REVERSAL PAIRS ===\n")
		rg.printPairs(report.NSF.Pairs, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDuplicates && report.Duplicates != nil && len(report.Duplicates.Groups) > 0 {
		fmt.Fprintf(writer, "=== DUPLICATE GROUPS ===\n")
		rg.printDuplicateGroups(report, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeCredits && len(report.Credits) > 0 {
		fmt.Fprintf(writer, "=== CREDIT PROPOSALS ===\n")
		rg.printCredits(report.Credits, writer)
	}

	return nil
}

func (rg *ReportGenerator) generateJSONReport(report *controller.RunReport, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// generateCSVReport emits one row per decision across all engines, with
// a type discriminator in the first column.
func (rg *ReportGenerator) generateCSVReport(report *controller.RunReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		headers := []string{
			"Type",
			"ID",
			"Outcome",
			"Tier_Or_Class",
			"Counterparty",
			"Amount",
			"Detail",
			"Reason",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	if report.Match != nil {
		for _, d := range report.Match.Decisions {
			if !rg.includeDecision(d) {
				continue
			}
			detail := ""
			if d.Outcome == matcher.OutcomeLinked {
				detail = fmt.Sprintf("obligation %d", d.ObligationID)
			} else if len(d.CandidateIDs) > 0 {
				detail = fmt.Sprintf("candidates %v", d.CandidateIDs)
			}
			record := []string{
				"Match Decision",
				strconv.FormatInt(d.SettlementID, 10),
				d.Outcome.String(),
				d.Tier.String(),
				"",
				"",
				detail,
				d.Reason,
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write match decision record: %w", err)
			}
		}
	}

	if rg.config.IncludePairs && report.NSF != nil {
		for _, p := range report.NSF.Pairs {
			record := []string{
				"Reversal Pair",
				strconv.FormatInt(p.DebitID, 10),
				"PAIRED",
				"",
				"",
				p.Amount.StringFixed(2),
				fmt.Sprintf("credit %d, gap %d days", p.CreditID, p.DateGapDays),
				"",
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write reversal pair record: %w", err)
			}
		}
	}

	if rg.config.IncludeDuplicates && report.Duplicates != nil {
		for _, g := range report.Duplicates.Groups {
			detail := fmt.Sprintf("members %v", g.MemberIDs)
			if g.Classification == models.ClassTrueDuplicate {
				detail = fmt.Sprintf("keep %d, delete %v, inflation %s",
					g.KeepID, g.DeleteIDs, g.InflationAmount.StringFixed(2))
			}
			record := []string{
				"Duplicate Group",
				strconv.FormatInt(g.MemberIDs[0], 10),
				string(g.Classification),
				string(g.Classification),
				g.Counterparty,
				g.Amount.StringFixed(2),
				detail,
				g.Reason,
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write duplicate group record: %w", err)
			}
		}
	}

	if rg.config.IncludeCredits {
		for _, e := range report.Credits {
			record := []string{
				"Credit Proposal",
				strconv.FormatInt(e.ObligationID, 10),
				string(e.ProposedAction),
				string(e.PatternCategory),
				e.Counterparty,
				e.ExcessAmount.StringFixed(2),
				"",
				e.Reason,
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write credit proposal record: %w", err)
			}
		}
	}

	return nil
}

// Console section helpers

func (rg *ReportGenerator) printAppliedCounts(report *controller.RunReport, writer io.Writer) {
	fmt.Fprintf(writer, "=== APPLIED ===\n")
	fmt.Fprintf(writer, "Link Writes:        %d\n", report.Applied.LinkWrites)
	fmt.Fprintf(writer, "Reversal Flags:     %d\n", report.Applied.ReversalFlags)
	fmt.Fprintf(writer, "Settlement Deletes: %d\n", report.Applied.SettlementDeletes)
	fmt.Fprintf(writer, "Rebalanced:         %d\n", report.Applied.ObligationsRebalanced)
	fmt.Fprintf(writer, "Batches:            %d\n\n", report.Applied.Batches)
}

func (rg *ReportGenerator) printMatchSummary(result *matcher.BatchResult, writer io.Writer) {
	total := result.Linked + result.Ambiguous + result.Unmatched
	fmt.Fprintf(writer, "Decisions:  %d\n", total)
	fmt.Fprintf(writer, "  Linked:    %d (%.1f%%)\n", result.Linked, percentage(result.Linked, total))
	fmt.Fprintf(writer, "  Ambiguous: %d (%.1f%%)\n", result.Ambiguous, percentage(result.Ambiguous, total))
	fmt.Fprintf(writer, "  Unmatched: %d (%.1f%%)\n", result.Unmatched, percentage(result.Unmatched, total))
	fmt.Fprintf(writer, "  Skipped:   %d\n", result.Skipped)

	shown := 0
	for _, d := range result.Decisions {
		if d.Outcome == matcher.OutcomeLinked {
			continue
		}
		if !rg.includeDecision(d) {
			continue
		}
		if shown == 0 {
			fmt.Fprintf(writer, "\nNeeds review:\n")
		}
		fmt.Fprintf(writer, "  - settlement %d [%s/%s]: %s\n",
			d.SettlementID, d.Outcome, d.Tier, d.Reason)
		shown++
		if shown >= rg.config.MaxItems {
			fmt.Fprintf(writer, "  ... and more\n")
			break
		}
	}
}

func (rg *ReportGenerator) printPairs(pairs []models.NSFPair, writer io.Writer) {
	fmt.Fprintf(writer, "Total Pairs: %d\n", len(pairs))
	for i, p := range pairs {
		fmt.Fprintf(writer, "  %d. debit %d / credit %d, amount %s, gap %d days\n",
			i+1, p.DebitID, p.CreditID, p.Amount.StringFixed(2), p.DateGapDays)
		if i+1 >= rg.config.MaxItems && len(pairs) > rg.config.MaxItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(pairs)-rg.config.MaxItems)
			break
		}
	}
}

func (rg *ReportGenerator) printDuplicateGroups(report *controller.RunReport, writer io.Writer) {
	result := report.Duplicates
	fmt.Fprintf(writer, "Groups:          %d\n", len(result.Groups))
	fmt.Fprintf(writer, "True Duplicates: %d\n", result.TrueDuplicates)
	fmt.Fprintf(writer, "Flagged:         %d\n", result.Flagged)
	fmt.Fprintf(writer, "Total Inflation: %s\n\n", result.TotalInflation.StringFixed(2))

	for i, g := range result.Groups {
		fmt.Fprintf(writer, "  %d. %s %s on %s [%s]\n",
			i+1, g.Counterparty, g.Amount.StringFixed(2),
			g.OccurredOn.Format("2006-01-02"), g.Classification)
		if g.Classification == models.ClassTrueDuplicate {
			fmt.Fprintf(writer, "     keep %d, delete %v\n", g.KeepID, g.DeleteIDs)
		}
		fmt.Fprintf(writer, "     %s\n", g.Reason)
		if i+1 >= rg.config.MaxItems && len(result.Groups) > rg.config.MaxItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(result.Groups)-rg.config.MaxItems)
			break
		}
	}
}

func (rg *ReportGenerator) printCredits(entries []models.CreditLedgerEntry, writer io.Writer) {
	fmt.Fprintf(writer, "Total Proposals: %d\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(writer, "  %d. obligation %d (%s): excess %s, %s -> %s\n",
			i+1, e.ObligationID, e.Counterparty, e.ExcessAmount.StringFixed(2),
			e.PatternCategory, e.ProposedAction)
		if i+1 >= rg.config.MaxItems && len(entries) > rg.config.MaxItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(entries)-rg.config.MaxItems)
			break
		}
	}
}

func (rg *ReportGenerator) includeDecision(d matcher.Decision) bool {
	switch d.Outcome {
	case matcher.OutcomeLinked:
		return rg.config.IncludeLinkedDecisions
	case matcher.OutcomeAmbiguous:
		return rg.config.IncludeAmbiguous
	case matcher.OutcomeUnmatched:
		return rg.config.IncludeUnmatched
	default:
		return false
	}
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}
