package telegram

import (
	"fmt"
	"strings"

	"golang-updown-settler/internal/settler/dto"
)

// FormatPassAlertMessage formats an operator alert for a settlement pass
// that finished with failed symbols.
func FormatPassAlertMessage(tradingDay, trigger string, failedSymbols []string) string {
	var b strings.Builder
	b.WriteString("⚠️ *Settlement Pass Alert*\n\n")
	b.WriteString(fmt.Sprintf("📅 *Trading Day:* %s\n", tradingDay))
	b.WriteString(fmt.Sprintf("▶️ *Trigger:* %s\n", trigger))
	b.WriteString(fmt.Sprintf("❌ *Failed Symbols (%d):* %s\n", len(failedSymbols), strings.Join(failedSymbols, ", ")))
	b.WriteString("\nUse the retry endpoint to re-run the unresolved subset.")
	return b.String()
}

// FormatIntegrityAlertMessage formats an operator alert for a ledger
// integrity mismatch. The ledger is never auto-corrected.
func FormatIntegrityAlertMessage(report *dto.IntegrityReport) string {
	var b strings.Builder
	b.WriteString("🚨 *Ledger Integrity Mismatch*\n\n")
	b.WriteString(fmt.Sprintf("👥 *Users Checked:* %d\n", report.CheckedUsers))
	b.WriteString(fmt.Sprintf("❗ *Mismatches:* %d\n\n", len(report.Issues)))
	for _, issue := range report.Issues {
		b.WriteString(fmt.Sprintf("• user %d: recorded %d, recomputed %d (diff %+d)\n",
			issue.UserID, issue.RecordedBalance, issue.RecomputedSum, issue.Difference))
	}
	b.WriteString("\nManual reconciliation required.")
	return b.String()
}
