// Package ofx converts OFX/QFX statement files into bank statements the
// reconciliation engine can consume.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/veloxbooks/reckon/internal/model"
)

// Statement is one parsed statement: the period snapshot plus its lines.
// The statement id and number are assigned by the importer, not here.
type Statement struct {
	PeriodStart    time.Time
	PeriodEnd      time.Time
	BankAccountID  string
	OpeningBalance float64
	ClosingBalance float64
	Lines          []model.StatementTransaction
}

// Parser implements OFX/QFX statement file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in OFX files.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// Fix mixed-case SEVERITY values (should be INFO, WARN, or ERROR)
	severityRegex := regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// Fix missing closing angle brackets in SGML-style OFX files
	tagFixRegex := regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	content = tagFixRegex.ReplaceAllString(content, "$1>")

	return content
}

// ParseFile parses an OFX/QFX file and returns the statements it contains.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]Statement, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var statements []Statement

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		parsed, err := p.convertStatement(stmt)
		if err != nil {
			slog.Warn("Failed to process bank statement",
				"account", stmt.BankAcctFrom.AcctID,
				"error", err)
			continue
		}
		statements = append(statements, *parsed)
	}

	slog.Info("Parsed OFX file",
		"statements", len(statements))

	return statements, nil
}

// convertStatement converts one OFX statement response. The ledger
// balance becomes the closing balance; the opening balance is derived by
// rolling the signed line amounts back from it.
func (p *Parser) convertStatement(stmt *ofxgo.StatementResponse) (*Statement, error) {
	if stmt.BankTranList == nil {
		return nil, fmt.Errorf("statement has no transaction list")
	}

	out := &Statement{
		BankAccountID: string(stmt.BankAcctFrom.AcctID),
		PeriodStart:   stmt.BankTranList.DtStart.Time,
		PeriodEnd:     stmt.BankTranList.DtEnd.Time,
	}

	closing, _ := stmt.BalAmt.Float64()
	out.ClosingBalance = closing

	var total float64
	for _, ofxTx := range stmt.BankTranList.Transactions {
		line := p.convertLine(ofxTx)
		total += line.SignedAmount()
		out.Lines = append(out.Lines, line)
	}
	out.OpeningBalance = out.ClosingBalance - total

	// Running balances follow from the opening balance in line order.
	running := out.OpeningBalance
	for i := range out.Lines {
		running += out.Lines[i].SignedAmount()
		out.Lines[i].RunningBalance = running
	}

	return out, nil
}

// convertLine converts one OFX transaction into a statement line. OFX
// amounts are signed (negative for debits); statement lines carry a
// non-negative amount with the direction on the type.
func (p *Parser) convertLine(ofxTx ofxgo.Transaction) model.StatementTransaction {
	amount, _ := ofxTx.TrnAmt.Float64()

	lineType := model.StatementCredit
	if amount < 0 {
		lineType = model.StatementDebit
		amount = -amount
	}

	description := string(ofxTx.Name)
	if ofxTx.Payee != nil && ofxTx.Payee.Name != "" {
		description = string(ofxTx.Payee.Name)
	}
	if description == "" {
		description = string(ofxTx.Memo)
	}

	line := model.StatementTransaction{
		Date:            ofxTx.DtPosted.Time,
		Type:            lineType,
		Amount:          amount,
		Description:     strings.TrimSpace(description),
		ReferenceNumber: string(ofxTx.RefNum),
		CheckNumber:     string(ofxTx.CheckNum),
	}
	if line.ReferenceNumber == "" {
		line.ReferenceNumber = string(ofxTx.FiTID)
	}

	line.ID = line.GenerateHash()
	return line
}
